package discord

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/arbiter/internal/appeal/notify"
	"github.com/robalyx/arbiter/pkg/utils"
	"go.uber.org/zap"
)

// Transport delivers notifications as direct messages and channel posts.
type Transport struct {
	api    API
	logger *zap.Logger
}

// NewTransport creates a notification transport on the REST client.
func NewTransport(api API, logger *zap.Logger) *Transport {
	return &Transport{
		api:    api,
		logger: logger.Named("discord_transport"),
	}
}

// Send implements notify.Transport.
func (t *Transport) Send(ctx context.Context, to notify.Recipient, message string) error {
	channelID := snowflake.ID(to.ID)

	if to.Kind == notify.RecipientUser {
		channel, err := t.api.CreateDMChannel(snowflake.ID(to.ID), rest.WithCtx(ctx))
		if err != nil {
			return fmt.Errorf("failed to create DM channel: %w (userID=%d)", err, to.ID)
		}
		channelID = channel.ID()
	}

	embed := discord.NewEmbedBuilder().
		SetDescription(utils.Truncate(message, MaxEmbedDescription)).
		SetColor(NoticeEmbedColor).
		SetFooterText("This is an automated message about your appeal.").
		Build()

	_, err := t.api.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetEmbeds(embed).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send notification: %w (recipient=%s, id=%d)", err, to.Kind, to.ID)
	}

	t.logger.Debug("Sent notification",
		zap.String("recipient", to.Kind.String()),
		zap.Uint64("id", to.ID),
		zap.Uint64("guildID", to.GuildID))

	return nil
}
