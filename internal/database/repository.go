package database

import (
	"github.com/robalyx/arbiter/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	appeal *models.AppealModel
	action *models.ActionModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		appeal: models.NewAppeal(db, logger),
		action: models.NewAction(db, logger),
	}
}

// Appeal returns the appeal model repository.
func (r *Repository) Appeal() *models.AppealModel {
	return r.appeal
}

// Action returns the moderation action model repository.
func (r *Repository) Action() *models.ActionModel {
	return r.action
}
