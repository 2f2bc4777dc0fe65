package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/arbiter/internal/database/dbretry"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ActionModel handles database operations for moderation actions.
type ActionModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewAction creates a new ActionModel instance.
func NewAction(db *bun.DB, logger *zap.Logger) *ActionModel {
	return &ActionModel{
		db:     db,
		logger: logger.Named("db_action"),
	}
}

// Record inserts a moderation action and fills in its generated id.
func (r *ActionModel) Record(ctx context.Context, action *types.ModerationAction) error {
	action.Severity = action.Type.Severity()
	if action.AppliedAt.IsZero() {
		action.AppliedAt = time.Now()
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(action).
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to record moderation action: %w (guildID=%d, targetID=%d)",
				err, action.GuildID, action.TargetID)
		}

		return nil
	})
}

// Action returns the action or types.ErrActionNotFound.
func (r *ActionModel) Action(ctx context.Context, actionID int64) (*types.ModerationAction, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.ModerationAction, error) {
		var action types.ModerationAction
		err := r.db.NewSelect().
			Model(&action).
			Where("id = ?", actionID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w (actionID=%d)", types.ErrActionNotFound, actionID)
			}
			return nil, fmt.Errorf("failed to get moderation action: %w (actionID=%d)", err, actionID)
		}

		return &action, nil
	})
}

// MarkReversed stamps the reversal time. An already reversed action keeps its
// original timestamp.
func (r *ActionModel) MarkReversed(ctx context.Context, actionID int64, at time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.ModerationAction)(nil)).
			Set("reversed_at = ?", at).
			Where("id = ?", actionID).
			Where("reversed_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark action reversed: %w (actionID=%d)", err, actionID)
		}

		r.logger.Debug("Marked moderation action reversed", zap.Int64("actionID", actionID))
		return nil
	})
}
