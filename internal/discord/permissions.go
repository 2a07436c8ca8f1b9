package discord

import (
	"context"
	"fmt"

	"server-warden/internal/middleware"

	"github.com/bwmarrin/discordgo"
)

// PermissionBits maps guard permission names to Discord permission bits.
var PermissionBits = map[string]int64{
	"create_instant_invite":    discordgo.PermissionCreateInstantInvite,
	"kick_members":             discordgo.PermissionKickMembers,
	"ban_members":              discordgo.PermissionBanMembers,
	"administrator":            discordgo.PermissionAdministrator,
	"manage_channels":          discordgo.PermissionManageChannels,
	"manage_guild":             discordgo.PermissionManageGuild,
	"add_reactions":            discordgo.PermissionAddReactions,
	"view_audit_log":           discordgo.PermissionViewAuditLogs,
	"view_channel":             discordgo.PermissionViewChannel,
	"send_messages":            discordgo.PermissionSendMessages,
	"send_tts_messages":        discordgo.PermissionSendTTSMessages,
	"manage_messages":          discordgo.PermissionManageMessages,
	"embed_links":              discordgo.PermissionEmbedLinks,
	"attach_files":             discordgo.PermissionAttachFiles,
	"read_message_history":     discordgo.PermissionReadMessageHistory,
	"mention_everyone":         discordgo.PermissionMentionEveryone,
	"use_external_emojis":      discordgo.PermissionUseExternalEmojis,
	"use_application_commands": discordgo.PermissionUseApplicationCommands,
	"manage_threads":           discordgo.PermissionManageThreads,
	"create_public_threads":    discordgo.PermissionCreatePublicThreads,
	"create_private_threads":   discordgo.PermissionCreatePrivateThreads,
	"send_messages_in_threads": discordgo.PermissionSendMessagesInThreads,
	"priority_speaker":         discordgo.PermissionVoicePrioritySpeaker,
	"connect":                  discordgo.PermissionVoiceConnect,
	"speak":                    discordgo.PermissionVoiceSpeak,
	"mute_members":             discordgo.PermissionVoiceMuteMembers,
	"deafen_members":           discordgo.PermissionVoiceDeafenMembers,
	"move_members":             discordgo.PermissionVoiceMoveMembers,
	"change_nickname":          discordgo.PermissionChangeNickname,
	"manage_nicknames":         discordgo.PermissionManageNicknames,
	"manage_roles":             discordgo.PermissionManageRoles,
	"manage_webhooks":          discordgo.PermissionManageWebhooks,
	"manage_events":            discordgo.PermissionManageEvents,
	"view_guild_insights":      discordgo.PermissionViewGuildInsights,
	"moderate_members":         discordgo.PermissionModerateMembers,
	"use_external_stickers":    discordgo.PermissionUseExternalStickers,
	"request_to_speak":         discordgo.PermissionVoiceRequestToSpeak,
	"stream":                   discordgo.PermissionVoiceStreamVideo,
	"use_vad":                  discordgo.PermissionVoiceUseVAD,
}

// KnownPermission reports whether a guard permission name maps to a bit.
func KnownPermission(name string) bool {
	_, ok := PermissionBits[name]
	return ok
}

// permissionsFunc returns the computed channel permissions of a user.
type permissionsFunc func(ctx context.Context, userID, channelID string) (int64, error)

// Oracle answers guard permission checks from the gateway state, falling back to REST.
type Oracle struct {
	selfID func() string
	perms  permissionsFunc
}

var _ middleware.Oracle = (*Oracle)(nil)

func NewOracle(s *discordgo.Session) *Oracle {
	return &Oracle{
		selfID: func() string {
			if s.State == nil || s.State.User == nil {
				return ""
			}
			return s.State.User.ID
		},
		perms: sessionPermissions(s),
	}
}

func sessionPermissions(s *discordgo.Session) permissionsFunc {
	return func(ctx context.Context, userID, channelID string) (int64, error) {
		if s.State != nil {
			if p, err := s.State.UserChannelPermissions(userID, channelID); err == nil {
				return p, nil
			}
		}

		type result struct {
			perms int64
			err   error
		}
		done := make(chan result, 1)
		go func() {
			p, err := s.UserChannelPermissions(userID, channelID)
			done <- result{p, err}
		}()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case r := <-done:
			return r.perms, r.err
		}
	}
}

func (o *Oracle) HasPermission(ctx context.Context, subject middleware.Subject, perm string) (bool, error) {
	bit, ok := PermissionBits[perm]
	if !ok {
		return false, fmt.Errorf("unknown permission %q", perm)
	}
	userID := subject.UserID
	if subject.Bot {
		userID = o.selfID()
	}
	if userID == "" {
		return false, fmt.Errorf("no user to check %q for", perm)
	}

	perms, err := o.perms(ctx, userID, subject.ChannelID)
	if err != nil {
		return false, fmt.Errorf("channel permissions for %s: %w", userID, err)
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	return perms&bit == bit, nil
}
