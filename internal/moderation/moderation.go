// Package moderation applies timed mutes and bans and reverses them through
// the scheduler.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"server-warden/internal/guildconfig"
	"server-warden/internal/scheduler"
	st "server-warden/internal/storagetypes"

	"go.uber.org/zap"
)

const (
	KindUnmute = "unmute"
	KindUnban  = "unban"
)

var (
	// ErrGone is wrapped by Members when the member, role or ban no longer exists.
	ErrGone = errors.New("target no longer exists")

	ErrNoMuteRole = errors.New("no mute role is configured for this server")
)

// Members performs guild membership changes.
type Members interface {
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID string) error
}

// Notifier delivers a fire-and-forget message to a channel, or to a user by DM.
type Notifier interface {
	Notify(ctx context.Context, channelOrUserID, msg string)
}

// Payload is stored with every moderation action.
type Payload struct {
	RoleID      string `json:"role_id,omitempty"`
	ModeratorID string `json:"moderator_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type Service struct {
	members   Members
	notifier  Notifier
	configs   *guildconfig.Cache
	scheduler *scheduler.Scheduler
	log       *zap.Logger
	now       func() time.Time
}

func New(members Members, notifier Notifier, configs *guildconfig.Cache, sched *scheduler.Scheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		members:   members,
		notifier:  notifier,
		configs:   configs,
		scheduler: sched,
		log:       logger.Named("moderation"),
		now:       time.Now,
	}
}

// RegisterExecutors binds the unmute and unban executors to the scheduler.
func (s *Service) RegisterExecutors() {
	s.scheduler.Register(KindUnmute, scheduler.ExecutorFunc(s.executeUnmute))
	s.scheduler.Register(KindUnban, scheduler.ExecutorFunc(s.executeUnban))
}

// Mute gives the user the guild's mute role. A positive duration schedules the
// unmute; zero mutes until an explicit Unmute. Re-muting replaces the schedule.
func (s *Service) Mute(ctx context.Context, guildID, userID, moderatorID, reason string, duration time.Duration) (string, error) {
	cfg := s.configs.Get(ctx, guildID)
	if cfg.MuteRoleID == "" {
		return "", ErrNoMuteRole
	}
	_, wasMuted := s.scheduler.Active(guildID, userID, KindUnmute)
	if err := s.members.AddRole(ctx, guildID, userID, cfg.MuteRoleID); err != nil {
		return "", fmt.Errorf("add mute role: %w", err)
	}

	id, err := s.scheduler.Schedule(ctx, guildID, userID, KindUnmute,
		Payload{RoleID: cfg.MuteRoleID, ModeratorID: moderatorID, Reason: reason}, s.expiry(duration))
	if err != nil {
		// the previous mute and its schedule are still in place
		if !wasMuted {
			s.rollback(ctx, guildID, userID, "mute", s.members.RemoveRole(ctx, guildID, userID, cfg.MuteRoleID))
		}
		return "", fmt.Errorf("schedule unmute: %w", err)
	}
	s.modlog(ctx, cfg, fmt.Sprintf("🔇 <@%s> muted by <@%s> for %s. Reason: %s", userID, moderatorID, describe(duration), orNone(reason)))
	return id, nil
}

// Unmute removes the mute role now and drops any pending unmute.
func (s *Service) Unmute(ctx context.Context, guildID, userID, moderatorID string) error {
	cfg := s.configs.Get(ctx, guildID)
	roleID := cfg.MuteRoleID
	if a, ok := s.scheduler.Active(guildID, userID, KindUnmute); ok {
		if p := decode(a); p.RoleID != "" {
			roleID = p.RoleID
		}
	}
	if roleID == "" {
		return ErrNoMuteRole
	}
	if err := s.members.RemoveRole(ctx, guildID, userID, roleID); err != nil && !errors.Is(err, ErrGone) {
		return fmt.Errorf("remove mute role: %w", err)
	}
	if _, err := s.scheduler.CancelActive(ctx, guildID, userID, KindUnmute); err != nil {
		return err
	}
	s.modlog(ctx, cfg, fmt.Sprintf("🔊 <@%s> unmuted by <@%s>.", userID, moderatorID))
	return nil
}

// Ban bans the user. A positive duration schedules the unban; a permanent ban
// cancels a pending one.
func (s *Service) Ban(ctx context.Context, guildID, userID, moderatorID, reason string, duration time.Duration) (string, error) {
	_, wasBanned := s.scheduler.Active(guildID, userID, KindUnban)
	if err := s.members.Ban(ctx, guildID, userID, reason); err != nil {
		return "", fmt.Errorf("ban: %w", err)
	}
	cfg := s.configs.Get(ctx, guildID)

	var id string
	if duration > 0 {
		var err error
		id, err = s.scheduler.Schedule(ctx, guildID, userID, KindUnban,
			Payload{ModeratorID: moderatorID, Reason: reason}, s.expiry(duration))
		if err != nil {
			if !wasBanned {
				s.rollback(ctx, guildID, userID, "ban", s.members.Unban(ctx, guildID, userID))
			}
			return "", fmt.Errorf("schedule unban: %w", err)
		}
	} else if _, err := s.scheduler.CancelActive(ctx, guildID, userID, KindUnban); err != nil {
		return "", err
	}
	s.modlog(ctx, cfg, fmt.Sprintf("🔨 <@%s> banned by <@%s> for %s. Reason: %s", userID, moderatorID, describe(duration), orNone(reason)))
	return id, nil
}

func (s *Service) Unban(ctx context.Context, guildID, userID, moderatorID string) error {
	if err := s.members.Unban(ctx, guildID, userID); err != nil && !errors.Is(err, ErrGone) {
		return fmt.Errorf("unban: %w", err)
	}
	if _, err := s.scheduler.CancelActive(ctx, guildID, userID, KindUnban); err != nil {
		return err
	}
	s.modlog(ctx, s.configs.Get(ctx, guildID), fmt.Sprintf("🕊️ <@%s> unbanned by <@%s>.", userID, moderatorID))
	return nil
}

func (s *Service) executeUnmute(ctx context.Context, a st.DeferredAction) error {
	p := decode(a)
	cfg := s.configs.Get(ctx, a.GuildID)
	roleID := p.RoleID
	if roleID == "" {
		roleID = cfg.MuteRoleID
	}
	if roleID == "" {
		s.log.Warn("unmute skipped, no mute role", zap.String("guild", a.GuildID), zap.String("user", a.SubjectID))
		return nil
	}
	if err := s.members.RemoveRole(ctx, a.GuildID, a.SubjectID, roleID); err != nil {
		if errors.Is(err, ErrGone) {
			return nil
		}
		return err
	}
	s.modlog(ctx, cfg, fmt.Sprintf("🔊 <@%s> was unmuted automatically.", a.SubjectID))
	return nil
}

func (s *Service) executeUnban(ctx context.Context, a st.DeferredAction) error {
	if err := s.members.Unban(ctx, a.GuildID, a.SubjectID); err != nil {
		if errors.Is(err, ErrGone) {
			return nil
		}
		return err
	}
	s.modlog(ctx, s.configs.Get(ctx, a.GuildID), fmt.Sprintf("🕊️ <@%s> was unbanned automatically.", a.SubjectID))
	return nil
}

// rollback logs the outcome of undoing an action whose reversal could not be
// scheduled.
func (s *Service) rollback(ctx context.Context, guildID, userID, action string, err error) {
	if err == nil || errors.Is(err, ErrGone) {
		s.log.Warn("rolled back action, reversal could not be scheduled",
			zap.String("guild", guildID), zap.String("user", userID), zap.String("action", action))
		return
	}
	s.log.Error("rollback failed, action stays in effect with no reversal scheduled",
		zap.String("guild", guildID), zap.String("user", userID), zap.String("action", action), zap.Error(err))
	cfg := s.configs.Get(ctx, guildID)
	s.modlog(ctx, cfg, fmt.Sprintf("⚠️ The %s of <@%s> could not be scheduled for reversal. Lift it by hand.", action, userID))
}

func (s *Service) modlog(ctx context.Context, cfg st.GuildConfig, msg string) {
	if s.notifier == nil || cfg.ModlogChannelID == "" {
		return
	}
	s.notifier.Notify(ctx, cfg.ModlogChannelID, msg)
}

func (s *Service) expiry(d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := s.now().Add(d)
	return &t
}

func decode(a st.DeferredAction) Payload {
	var p Payload
	if len(a.Payload) > 0 {
		_ = json.Unmarshal(a.Payload, &p)
	}
	return p
}

func describe(d time.Duration) string {
	if d <= 0 {
		return "an indefinite time"
	}
	return d.String()
}

func orNone(s string) string {
	if s == "" {
		return "none given"
	}
	return s
}
