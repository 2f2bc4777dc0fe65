package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/arbiter/internal/database/models"
	"github.com/robalyx/arbiter/internal/database/types"
	"go.uber.org/zap"
)

// Platform applies moderation changes on the chat platform.
type Platform interface {
	// Reverse undoes the action for the member.
	Reverse(ctx context.Context, action *types.ModerationAction) error
	// Escalate posts an upheld action to the moderators.
	Escalate(ctx context.Context, action *types.ModerationAction, reason string) error
}

// ActionService handles moderation action business logic.
type ActionService struct {
	model    *models.ActionModel
	platform Platform
	logger   *zap.Logger
	now      func() time.Time
}

// NewAction creates a new action service.
func NewAction(model *models.ActionModel, platform Platform, logger *zap.Logger) *ActionService {
	return &ActionService{
		model:    model,
		platform: platform,
		logger:   logger.Named("action_service"),
		now:      time.Now,
	}
}

// Action returns the stored moderation action.
func (s *ActionService) Action(ctx context.Context, actionID int64) (*types.ModerationAction, error) {
	return s.model.Action(ctx, actionID)
}

// Reverse undoes the action on the platform and stamps the record.
// The platform call goes first so a failed call leaves the record untouched.
func (s *ActionService) Reverse(ctx context.Context, action *types.ModerationAction) error {
	if err := s.platform.Reverse(ctx, action); err != nil {
		return fmt.Errorf("failed to reverse action on platform: %w (actionID=%d)", err, action.ID)
	}

	if err := s.model.MarkReversed(ctx, action.ID, s.now()); err != nil {
		// The member is already restored so only the bookkeeping is behind
		s.logger.Error("Failed to mark action reversed",
			zap.Int64("actionID", action.ID),
			zap.Error(err))
	}

	s.logger.Info("Reversed moderation action",
		zap.Int64("actionID", action.ID),
		zap.Uint64("guildID", action.GuildID),
		zap.Uint64("targetID", action.TargetID),
		zap.String("type", action.Type.String()))

	return nil
}

// Escalate reports an upheld action to the moderators.
func (s *ActionService) Escalate(ctx context.Context, action *types.ModerationAction, reason string) error {
	if err := s.platform.Escalate(ctx, action, reason); err != nil {
		return fmt.Errorf("failed to escalate action: %w (actionID=%d)", err, action.ID)
	}
	return nil
}
