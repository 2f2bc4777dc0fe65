package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/robalyx/arbiter/pkg/utils"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// RecipientKind tells a transport where to deliver a message.
type RecipientKind int

const (
	// RecipientUser is a direct message to a user.
	RecipientUser RecipientKind = iota
	// RecipientChannel is a message posted to a channel.
	RecipientChannel
)

// String returns the string representation of the recipient kind.
func (k RecipientKind) String() string {
	if k == RecipientChannel {
		return "channel"
	}
	return "user"
}

// Recipient addresses a notification.
type Recipient struct {
	Kind    RecipientKind
	ID      uint64
	GuildID uint64
}

// Transport delivers a rendered message.
type Transport interface {
	Send(ctx context.Context, to Recipient, message string) error
}

// Settings supplies notification parameters per guild.
type Settings interface {
	Notification(guildID uint64) config.NotificationConfig
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryOptions replaces the retry schedule derived from the attempt limit.
func WithRetryOptions(fn func(maxAttempts uint64) utils.RetryOptions) Option {
	return func(m *Manager) {
		m.retryOptions = fn
	}
}

// Manager sends appeal notifications in the background. Sends are best
// effort: failures are retried, then logged, and never reach the caller.
type Manager struct {
	transport Transport
	settings  Settings
	logger    *zap.Logger
	wg        conc.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	retryOptions func(maxAttempts uint64) utils.RetryOptions
}

// NewManager creates a notification manager.
func NewManager(transport Transport, settings Settings, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport:    transport,
		settings:     settings,
		logger:       logger.Named("notify"),
		done:         make(chan struct{}),
		retryOptions: utils.GetNotificationRetryOptions,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NotifyAppealSubmitted tells the appellant their appeal was received.
func (m *Manager) NotifyAppealSubmitted(ctx context.Context, appeal *types.Appeal) {
	cfg := m.settings.Notification(appeal.GuildID)
	if !cfg.NotifyOnSubmission {
		return
	}

	message := fmt.Sprintf("Your appeal `%s` against the %s in server %d was received and is being processed.",
		appeal.ID, actionLabel(appeal), appeal.GuildID)

	m.dispatch(ctx, cfg, appeal, userRecipient(appeal), message)
}

// NotifyAppealDecision tells the appellant how their appeal ended.
func (m *Manager) NotifyAppealDecision(ctx context.Context, appeal *types.Appeal) {
	cfg := m.settings.Notification(appeal.GuildID)
	if !cfg.NotifyOnDecision || !appeal.Status.IsTerminal() {
		return
	}

	m.dispatch(ctx, cfg, appeal, userRecipient(appeal), DecisionMessage(appeal))
}

// NotifyReviewers pings the reviewer channel about a queued appeal.
func (m *Manager) NotifyReviewers(ctx context.Context, appeal *types.Appeal, fallbackChannelID uint64) {
	cfg := m.settings.Notification(appeal.GuildID)
	if !cfg.NotifyReviewers {
		return
	}

	channelID := cfg.ReviewerChannelID
	if channelID == 0 {
		channelID = fallbackChannelID
	}
	if channelID == 0 {
		m.logger.Debug("No reviewer channel configured",
			zap.Uint64("guildID", appeal.GuildID))
		return
	}

	path := appeal.ProcessingPath.Describe()
	message := fmt.Sprintf("%s Appeal `%s` from user %d is waiting for review (%s, %s).",
		path.Glyph, appeal.ID, appeal.UserID, path.Label, actionLabel(appeal))

	to := Recipient{Kind: RecipientChannel, ID: channelID, GuildID: appeal.GuildID}
	m.dispatch(ctx, cfg, appeal, to, message)
}

// Wait blocks until every pending send has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close abandons delayed sends that have not started and waits for the rest.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// DecisionMessage renders the appellant-facing text for a closed appeal.
func DecisionMessage(appeal *types.Appeal) string {
	action := actionLabel(appeal)

	switch appeal.Status {
	case enum.AppealStatusApproved:
		if appeal.Execution != nil && appeal.Execution.Outcome == enum.ExecutionOutcomeError {
			return fmt.Sprintf("Your appeal `%s` against the %s was approved. "+
				"The %s could not be lifted automatically yet; a moderator will follow up.",
				appeal.ID, action, action)
		}
		return fmt.Sprintf("Your appeal `%s` against the %s was approved.", appeal.ID, action)
	case enum.AppealStatusRejected:
		return fmt.Sprintf("Your appeal `%s` against the %s was rejected. The %s stays in place.",
			appeal.ID, action, action)
	case enum.AppealStatusExpired:
		return fmt.Sprintf("Your appeal `%s` against the %s expired before it could be reviewed.",
			appeal.ID, action)
	case enum.AppealStatusCancelled:
		return fmt.Sprintf("Your appeal `%s` against the %s was cancelled.", appeal.ID, action)
	case enum.AppealStatusPendingAnalysis,
		enum.AppealStatusPendingReview,
		enum.AppealStatusUnderReview:
	}

	return fmt.Sprintf("Your appeal `%s` is %s.", appeal.ID, appeal.Status.Describe().Label)
}

// dispatch sends the message in the background after the configured delay.
func (m *Manager) dispatch(
	ctx context.Context, cfg config.NotificationConfig, appeal *types.Appeal, to Recipient, message string,
) {
	// The send outlives the request that triggered it
	ctx = context.WithoutCancel(ctx)
	appealID := appeal.ID.String()

	m.wg.Go(func() {
		if delay := cfg.Delay(); delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-m.done:
				m.logger.Debug("Dropped delayed notification on shutdown",
					zap.String("appealID", appealID))
				return
			}
		}

		_, err := utils.WithRetry(ctx, func() (struct{}, error) {
			return struct{}{}, m.transport.Send(ctx, to, message)
		}, m.retryOptions(cfg.MaxAttempts))
		if err != nil {
			m.logger.Warn("Failed to send notification",
				zap.String("appealID", appealID),
				zap.String("recipient", to.Kind.String()),
				zap.Uint64("recipientID", to.ID),
				zap.Error(err))
			return
		}

		m.logger.Debug("Sent notification",
			zap.String("appealID", appealID),
			zap.String("recipient", to.Kind.String()),
			zap.Uint64("recipientID", to.ID))
	})
}

func actionLabel(appeal *types.Appeal) string {
	return strings.ToLower(appeal.Action.Type.Describe().Label)
}

func userRecipient(appeal *types.Appeal) Recipient {
	return Recipient{Kind: RecipientUser, ID: appeal.UserID, GuildID: appeal.GuildID}
}
