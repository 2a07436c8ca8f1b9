package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"server-warden/internal/app"
	"server-warden/internal/config"
	"server-warden/internal/dispatch"
	"server-warden/internal/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type sessionOptions struct {
	guildID   string
	channelID string
	userID    string
}

type session struct {
	opts *sessionOptions
	core *app.Core
	out  io.Writer
}

type consoleMembers struct{ log *zap.Logger }

func (m consoleMembers) AddRole(_ context.Context, guildID, userID, roleID string) error {
	m.log.Info("add role", zap.String("guild", guildID), zap.String("user", userID), zap.String("role", roleID))
	return nil
}

func (m consoleMembers) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	m.log.Info("remove role", zap.String("guild", guildID), zap.String("user", userID), zap.String("role", roleID))
	return nil
}

func (m consoleMembers) Ban(_ context.Context, guildID, userID, reason string) error {
	m.log.Info("ban", zap.String("guild", guildID), zap.String("user", userID), zap.String("reason", reason))
	return nil
}

func (m consoleMembers) Unban(_ context.Context, guildID, userID string) error {
	m.log.Info("unban", zap.String("guild", guildID), zap.String("user", userID))
	return nil
}

type consoleNotifier struct{ out io.Writer }

func (n consoleNotifier) Notify(_ context.Context, target, msg string) {
	fmt.Fprintf(n.out, "[notify %s] %s\n", target, msg)
}

var allowAll = middleware.OracleFunc(func(context.Context, middleware.Subject, string) (bool, error) {
	return true, nil
})

// withSession builds the core for one CLI invocation and tears it down afterwards.
func withSession(cmd *cobra.Command, opts *sessionOptions, fn func(*session) error) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	core, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := core.Close(closeCtx); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	out := cmd.OutOrStdout()
	if err := core.Wire(app.Transport{
		Members:  consoleMembers{log: logger.Named("members")},
		Notifier: consoleNotifier{out: out},
		Oracle:   allowAll,
	}); err != nil {
		return err
	}
	if err := core.Start(ctx); err != nil {
		return err
	}
	return fn(&session{opts: opts, core: core, out: out})
}

func (s *session) dispatch(ctx context.Context, text string) dispatch.Result {
	res := s.core.Dispatcher.Dispatch(ctx, dispatch.Message{
		GuildID:    s.opts.guildID,
		ChannelID:  s.opts.channelID,
		AuthorID:   s.opts.userID,
		AuthorName: "console",
		Content:    text,
		Reply: func(_ context.Context, text string) error {
			_, err := fmt.Fprintln(s.out, text)
			return err
		},
	})
	if res.Kind == dispatch.Miss {
		fmt.Fprintln(s.out, "(no command)")
	}
	return res
}

func runRepl(cmd *cobra.Command, opts *sessionOptions) error {
	return withSession(cmd, opts, func(s *session) error {
		ctx := cmd.Context()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		fmt.Fprint(s.out, "> ")
		for scanner.Scan() {
			s.dispatch(ctx, scanner.Text())
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprint(s.out, "> ")
		}
		return scanner.Err()
	})
}
