// Package discord applies appeal outcomes through the Discord REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/pkg/utils"
	"go.uber.org/zap"
)

const (
	// EscalationEmbedColor marks upheld actions in the mod-log channel.
	EscalationEmbedColor = 0xE74C3C
	// NoticeEmbedColor is used for appeal notices.
	NoticeEmbedColor = 0x3498DB

	// MaxEmbedDescription is the longest description Discord accepts.
	MaxEmbedDescription = 4096

	reversalReason = "Appeal approved"
)

var (
	// ErrNotReversible is returned for action types that cannot be undone.
	ErrNotReversible = errors.New("action type cannot be reversed")
	// ErrMissingRole is returned when a role removal has no recorded role.
	ErrMissingRole = errors.New("role removal has no role recorded")
)

// API is the part of the Discord REST client used here. rest.Rest satisfies it.
type API interface {
	DeleteBan(guildID snowflake.ID, userID snowflake.ID, opts ...rest.RequestOpt) error
	UpdateMember(
		guildID snowflake.ID, userID snowflake.ID, memberUpdate discord.MemberUpdate, opts ...rest.RequestOpt,
	) (*discord.Member, error)
	AddMemberRole(guildID snowflake.ID, userID snowflake.ID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	CreateDMChannel(userID snowflake.ID, opts ...rest.RequestOpt) (*discord.DMChannel, error)
	CreateMessage(
		channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt,
	) (*discord.Message, error)
}

// NewRest creates a REST client authenticated with the bot token.
func NewRest(token string) rest.Rest {
	return rest.New(rest.NewClient(token))
}

// Client reverses moderation actions and posts escalations.
type Client struct {
	api             API
	modLogChannelID snowflake.ID
	logger          *zap.Logger
}

// NewClient creates a Discord platform client. Escalations are only logged
// when modLogChannelID is zero.
func NewClient(api API, modLogChannelID uint64, logger *zap.Logger) *Client {
	return &Client{
		api:             api,
		modLogChannelID: snowflake.ID(modLogChannelID),
		logger:          logger.Named("discord"),
	}
}

// Reverse undoes the action for the member.
func (c *Client) Reverse(ctx context.Context, action *types.ModerationAction) error {
	guildID := snowflake.ID(action.GuildID)
	userID := snowflake.ID(action.TargetID)
	opts := []rest.RequestOpt{rest.WithCtx(ctx), rest.WithReason(reversalReason)}

	var call func() error
	switch action.Type {
	case enum.ActionTypeBan:
		call = func() error { return c.api.DeleteBan(guildID, userID, opts...) }
	case enum.ActionTypeTimeout:
		call = func() error {
			_, err := c.api.UpdateMember(guildID, userID, discord.MemberUpdate{
				CommunicationDisabledUntil: json.NullPtr[time.Time](),
			}, opts...)
			return err
		}
	case enum.ActionTypeRoleRemove:
		if action.RoleID == 0 {
			return fmt.Errorf("%w (actionID=%d)", ErrMissingRole, action.ID)
		}
		call = func() error { return c.api.AddMemberRole(guildID, userID, snowflake.ID(action.RoleID), opts...) }
	case enum.ActionTypeWarn:
		// Warnings only exist in our records
		return nil
	case enum.ActionTypeDeleteMessage, enum.ActionTypeKick:
		return fmt.Errorf("%w: %s (actionID=%d)", ErrNotReversible, action.Type, action.ID)
	default:
		return fmt.Errorf("%w: %s (actionID=%d)", ErrNotReversible, action.Type, action.ID)
	}

	_, err := utils.WithRetry(ctx, func() (struct{}, error) {
		err := call()
		if err != nil && !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, utils.GetReversalRetryOptions())
	if err != nil {
		return fmt.Errorf("failed to reverse %s: %w (guildID=%d, userID=%d)",
			action.Type, err, action.GuildID, action.TargetID)
	}

	c.logger.Debug("Reversed action on Discord",
		zap.Int64("actionID", action.ID),
		zap.String("type", action.Type.String()))

	return nil
}

// Escalate posts the upheld action to the mod-log channel.
func (c *Client) Escalate(ctx context.Context, action *types.ModerationAction, reason string) error {
	if c.modLogChannelID == 0 {
		c.logger.Warn("No mod-log channel configured, escalation only logged",
			zap.Int64("actionID", action.ID),
			zap.String("reason", reason))
		return nil
	}

	desc := action.Type.Describe()
	embed := discord.NewEmbedBuilder().
		SetTitle(desc.Glyph+" Appeal Upheld").
		SetDescription(utils.Truncate(reason, MaxEmbedDescription)).
		AddField("Action", desc.Label, true).
		AddField("Member", fmt.Sprintf("<@%d>", action.TargetID), true).
		AddField("Applied", fmt.Sprintf("<t:%d:F>", action.AppliedAt.Unix()), true).
		SetColor(EscalationEmbedColor).
		SetFooterText(fmt.Sprintf("Action %d", action.ID)).
		Build()

	_, err := c.api.CreateMessage(c.modLogChannelID, discord.NewMessageCreateBuilder().
		SetEmbeds(embed).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to post escalation: %w (channelID=%d)", err, c.modLogChannelID)
	}

	return nil
}

// isTransient reports whether a REST failure is worth retrying.
func isTransient(err error) bool {
	var restError *rest.Error
	if !errors.As(err, &restError) || restError.Response == nil {
		return false
	}

	status := restError.Response.StatusCode
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
