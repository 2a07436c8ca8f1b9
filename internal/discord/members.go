package discord

import (
	"context"
	"time"

	"server-warden/internal/moderation"
	"server-warden/pkg/retrylimit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Members applies role and ban changes through the REST API.
type Members struct {
	s     *discordgo.Session
	lim   *retrylimit.AdaptiveLimiter
	retry retrylimit.RetryConfig
}

var _ moderation.Members = (*Members)(nil)

func NewMembers(s *discordgo.Session, lim *retrylimit.AdaptiveLimiter, logger *zap.Logger) *Members {
	retry := retrylimit.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.MaxDelay = 5 * time.Second
	if logger != nil {
		retry.Logger = logger.Named("members")
	}
	return &Members{s: s, lim: lim, retry: retry}
}

func (m *Members) do(ctx context.Context, call func(opt discordgo.RequestOption) error) error {
	return retrylimit.WithRetryConfig(ctx, func(ctx context.Context) error {
		return classify(call(discordgo.WithContext(ctx)))
	}, m.lim, m.retry)
}

func (m *Members) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return m.do(ctx, func(opt discordgo.RequestOption) error {
		return m.s.GuildMemberRoleAdd(guildID, userID, roleID, opt)
	})
}

func (m *Members) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return m.do(ctx, func(opt discordgo.RequestOption) error {
		return m.s.GuildMemberRoleRemove(guildID, userID, roleID, opt)
	})
}

func (m *Members) Ban(ctx context.Context, guildID, userID, reason string) error {
	return m.do(ctx, func(opt discordgo.RequestOption) error {
		return m.s.GuildBanCreateWithReason(guildID, userID, reason, 0, opt)
	})
}

func (m *Members) Unban(ctx context.Context, guildID, userID string) error {
	return m.do(ctx, func(opt discordgo.RequestOption) error {
		return m.s.GuildBanDelete(guildID, userID, opt)
	})
}
