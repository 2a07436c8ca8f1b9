package discord

import (
	"context"

	"server-warden/internal/moderation"
	"server-warden/pkg/retrylimit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Notifier posts to a channel, or opens a DM when the id is a user.
type Notifier struct {
	s   *discordgo.Session
	lim *retrylimit.AdaptiveLimiter
	log *zap.Logger
}

var _ moderation.Notifier = (*Notifier)(nil)

func NewNotifier(s *discordgo.Session, lim *retrylimit.AdaptiveLimiter, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{s: s, lim: lim, log: logger.Named("notifier")}
}

func (n *Notifier) Notify(ctx context.Context, channelOrUserID, msg string) {
	if err := n.lim.Wait(ctx); err != nil {
		return
	}
	_, err := n.s.ChannelMessageSend(channelOrUserID, msg, discordgo.WithContext(ctx))
	if err == nil {
		n.lim.Success()
		return
	}
	if !isGone(err) {
		if isRateLimited(err) {
			n.lim.RateLimited()
		}
		n.log.Warn("notify failed",
			zap.String("target", channelOrUserID),
			zap.Float64("limit_rps", n.lim.CurrentLimit()),
			zap.Error(err),
		)
		return
	}

	dm, err := n.s.UserChannelCreate(channelOrUserID, discordgo.WithContext(ctx))
	if err != nil {
		n.log.Warn("notify target is neither a channel nor a reachable user",
			zap.String("target", channelOrUserID), zap.Error(err))
		return
	}
	if _, err := n.s.ChannelMessageSend(dm.ID, msg, discordgo.WithContext(ctx)); err != nil {
		n.log.Warn("direct message failed", zap.String("user", channelOrUserID), zap.Error(err))
		return
	}
	n.lim.Success()
}
