// Package discord connects the dispatcher to a Discord gateway session.
package discord

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"server-warden/internal/config"
	"server-warden/internal/dispatch"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Warmer preloads guild configuration once the guild list is known.
type Warmer interface {
	Warm(ctx context.Context, guildIDs []string, workers int) error
}

// Bot owns the gateway session and feeds inbound messages to a queue.
type Bot struct {
	dg     *discordgo.Session
	cfg    *config.Config
	log    *zap.Logger
	warmer Warmer
	queue  chan dispatch.Message
	ctx    context.Context
}

func New(ctx context.Context, cfg *config.Config, warmer Warmer, logger *zap.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		dg:     dg,
		cfg:    cfg,
		log:    logger.Named("discord"),
		warmer: warmer,
		queue:  make(chan dispatch.Message, max(cfg.QueueSize, 1)),
		ctx:    ctx,
	}
	b.configureIntents()
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onMessageCreate)
	return b, nil
}

func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
}

// Session is the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session { return b.dg }

// Messages is drained by the dispatcher workers.
func (b *Bot) Messages() <-chan dispatch.Message { return b.queue }

// Latency is the gateway heartbeat round trip.
func (b *Bot) Latency() time.Duration { return b.dg.HeartbeatLatency() }

func (b *Bot) Open() error {
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	return nil
}

func (b *Bot) Close() error { return b.dg.Close() }

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		if b.cfg.IsBlacklisted(g.ID) {
			b.leave(s, g.ID)
			continue
		}
		ids = append(ids, g.ID)
	}

	if b.warmer != nil && len(ids) > 0 {
		go func() {
			if err := b.warmer.Warm(b.ctx, ids, b.cfg.Workers); err != nil {
				b.log.Warn("guild config warm-up incomplete", zap.Error(err))
			}
		}()
	}
	b.log.Info("✅ Discord bot is running",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(ids)),
	)
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if b.cfg.IsBlacklisted(g.ID) {
		b.leave(s, g.ID)
	}
}

func (b *Bot) leave(s *discordgo.Session, guildID string) {
	b.log.Info("leaving blacklisted guild", zap.String("guild", guildID))
	if err := s.GuildLeave(guildID); err != nil {
		b.log.Error("failed to leave guild", zap.String("guild", guildID), zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if m.GuildID != "" && b.cfg.IsBlacklisted(m.GuildID) {
		return
	}
	b.enqueue(toMessage(m, replier(s, m.ChannelID)))
}

// enqueue never blocks the gateway goroutine; a full queue drops the message.
func (b *Bot) enqueue(msg dispatch.Message) {
	select {
	case b.queue <- msg:
	default:
		b.log.Warn("dispatch queue full, dropping message",
			zap.String("guild", msg.GuildID),
			zap.String("channel", msg.ChannelID),
		)
	}
}

func toMessage(m *discordgo.MessageCreate, reply func(ctx context.Context, text string) error) dispatch.Message {
	msg := dispatch.Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Raw:       m,
		Reply:     reply,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorBot = m.Author.Bot
	}
	if m.Member != nil && m.Member.Nick != "" {
		msg.AuthorName = m.Member.Nick
	}
	return msg
}

const maxMessageLength = 2000

func replier(s *discordgo.Session, channelID string) func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		for _, chunk := range splitMessage(text, maxMessageLength) {
			if _, err := s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
				return err
			}
		}
		return nil
	}
}

// splitMessage cuts text into chunks of at most limit bytes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
