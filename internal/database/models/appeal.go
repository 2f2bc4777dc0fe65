package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/database/dbretry"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// AppealModel handles database operations for appeals.
type AppealModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewAppeal creates a new AppealModel instance.
func NewAppeal(db *bun.DB, logger *zap.Logger) *AppealModel {
	return &AppealModel{
		db:     db,
		logger: logger.Named("db_appeal"),
	}
}

// Save inserts the appeal or overwrites the stored row. Rows that were updated
// more recently than the given appeal are left untouched.
func (r *AppealModel) Save(ctx context.Context, appeal *types.Appeal) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		result, err := r.db.NewInsert().
			Model(appeal).
			On("CONFLICT (id) DO UPDATE").
			Set("action = EXCLUDED.action").
			Set("status = EXCLUDED.status").
			Set("processing_path = EXCLUDED.processing_path").
			Set("review_deadline = EXCLUDED.review_deadline").
			Set("review_claimed_by = EXCLUDED.review_claimed_by").
			Set("claimed_at = EXCLUDED.claimed_at").
			Set("analysis = EXCLUDED.analysis").
			Set("review = EXCLUDED.review").
			Set("execution = EXCLUDED.execution").
			Set("closed_at = EXCLUDED.closed_at").
			Set("updated_at = EXCLUDED.updated_at").
			Where("appeal.updated_at <= EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save appeal: %w (appealID=%s)", err, appeal.ID)
		}

		if affected, _ := result.RowsAffected(); affected == 0 {
			r.logger.Debug("Skipped stale appeal write",
				zap.String("appealID", appeal.ID.String()),
				zap.String("status", appeal.Status.String()))
		}

		return nil
	})
}

// FindByID returns the appeal or types.ErrAppealNotFound.
func (r *AppealModel) FindByID(ctx context.Context, id uuid.UUID) (*types.Appeal, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Appeal, error) {
		var appeal types.Appeal
		err := r.db.NewSelect().
			Model(&appeal).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w (appealID=%s)", types.ErrAppealNotFound, id)
			}
			return nil, fmt.Errorf("failed to get appeal: %w (appealID=%s)", err, id)
		}

		return &appeal, nil
	})
}

// FindByUser returns the user's appeals in the guild, oldest first.
func (r *AppealModel) FindByUser(ctx context.Context, userID, guildID uint64) ([]*types.Appeal, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Appeal, error) {
		var appeals []*types.Appeal
		err := r.db.NewSelect().
			Model(&appeals).
			Where("user_id = ?", userID).
			Where("guild_id = ?", guildID).
			Order("submitted_at ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get user appeals: %w (userID=%d, guildID=%d)", err, userID, guildID)
		}

		return appeals, nil
	})
}

// FindOpen returns every appeal that has not reached a terminal status, oldest first.
func (r *AppealModel) FindOpen(ctx context.Context) ([]*types.Appeal, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Appeal, error) {
		var appeals []*types.Appeal
		err := r.db.NewSelect().
			Model(&appeals).
			Where("status IN (?)", bun.In(enum.OpenAppealStatuses())).
			Order("submitted_at ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get open appeals: %w", err)
		}

		return appeals, nil
	})
}

// CountByStatus returns the number of appeals per status.
func (r *AppealModel) CountByStatus(ctx context.Context) (map[enum.AppealStatus]int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (map[enum.AppealStatus]int, error) {
		var rows []struct {
			Status enum.AppealStatus `bun:"status"`
			Count  int               `bun:"count"`
		}

		err := r.db.NewSelect().
			Model((*types.Appeal)(nil)).
			Column("status").
			ColumnExpr("COUNT(*) AS count").
			Group("status").
			Scan(ctx, &rows)
		if err != nil {
			return nil, fmt.Errorf("failed to count appeals: %w", err)
		}

		counts := make(map[enum.AppealStatus]int, len(rows))
		for _, row := range rows {
			counts[row.Status] = row.Count
		}

		return counts, nil
	})
}
