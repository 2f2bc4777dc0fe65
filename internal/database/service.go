package database

import (
	"github.com/robalyx/arbiter/internal/database/service"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	action *service.ActionService
}

// NewService creates a new service instance with all services.
func NewService(repository *Repository, platform service.Platform, logger *zap.Logger) *Service {
	return &Service{
		action: service.NewAction(repository.Action(), platform, logger),
	}
}

// Action returns the moderation action service.
func (s *Service) Action() *service.ActionService {
	return s.action
}
