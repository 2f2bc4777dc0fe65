package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/arbiter/internal/database/dbretry"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return dbretry.Transaction(ctx, db, func(ctx context.Context, tx bun.Tx) error {
			// Clean up appeals that reference non-existent actions
			_, err := tx.NewRaw(`
				DELETE FROM appeals a
				WHERE NOT EXISTS (
					SELECT 1 FROM moderation_actions m
					WHERE m.id = a.action_id
				)
			`).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to clean up orphaned appeals: %w", err)
			}

			_, err = tx.NewRaw(`
				ALTER TABLE appeals
				ADD CONSTRAINT fk_appeals_action_id
				FOREIGN KEY (action_id) REFERENCES moderation_actions(id)
				ON DELETE CASCADE
			`).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to add appeals foreign key: %w", err)
			}

			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			ALTER TABLE appeals DROP CONSTRAINT IF EXISTS fk_appeals_action_id
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop appeals foreign key: %w", err)
		}

		return nil
	})
}
