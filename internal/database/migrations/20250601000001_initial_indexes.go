package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Appeal lookup indexes
			CREATE INDEX IF NOT EXISTS idx_appeals_user_guild
			ON appeals (user_id, guild_id, submitted_at ASC);

			CREATE INDEX IF NOT EXISTS idx_appeals_open
			ON appeals (submitted_at ASC)
			WHERE status IN (?, ?, ?);

			-- One open appeal per moderation action
			CREATE UNIQUE INDEX IF NOT EXISTS idx_appeals_open_action
			ON appeals (action_id)
			WHERE status IN (?, ?, ?);

			-- Moderation action indexes
			CREATE INDEX IF NOT EXISTS idx_moderation_actions_guild_target
			ON moderation_actions (guild_id, target_id, applied_at DESC);
		`,
			enum.AppealStatusPendingAnalysis, enum.AppealStatusPendingReview, enum.AppealStatusUnderReview,
			enum.AppealStatusPendingAnalysis, enum.AppealStatusPendingReview, enum.AppealStatusUnderReview,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_appeals_user_guild;
			DROP INDEX IF EXISTS idx_appeals_open;
			DROP INDEX IF EXISTS idx_appeals_open_action;
			DROP INDEX IF EXISTS idx_moderation_actions_guild_target;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
