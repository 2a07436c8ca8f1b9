// cmd/cli/main.go runs the command core from a terminal, with every permission
// granted and membership changes only logged.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &sessionOptions{}
	cmd := &cobra.Command{
		Use:           "warden-cli",
		Short:         "Run warden commands without a Discord connection",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(cmd, opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.guildID, "guild", "g", "console", "guild id to act in")
	cmd.PersistentFlags().StringVarP(&opts.channelID, "channel", "c", "console", "channel id to act in")
	cmd.PersistentFlags().StringVarP(&opts.userID, "user", "u", "10000000", "invoking user id")

	cmd.AddCommand(
		newExecCmd(opts),
		newPendingCmd(opts),
	)
	return cmd
}

func newExecCmd(opts *sessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <message>",
		Short: "Dispatch a single message and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				s.dispatch(cmd.Context(), args[0])
				return nil
			})
		},
	}
}

func newPendingCmd(opts *sessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List active deferred actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(s *session) error {
				for _, a := range s.core.Scheduler.Pending() {
					expires := "never"
					if a.ExpiresAt != nil {
						expires = a.ExpiresAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\tattempts=%d\n",
						a.ID, a.GuildID, a.SubjectID, a.Kind, expires, a.Attempts)
				}
				return nil
			})
		},
	}
}
