// Package memory holds in-process stores for appeals and moderation actions.
// They share the contract of the bun models and back the engine tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/database/types"
)

// AppealStore keeps appeals in a map.
type AppealStore struct {
	mu      sync.RWMutex
	appeals map[uuid.UUID]*types.Appeal
}

// NewAppealStore creates an empty appeal store.
func NewAppealStore() *AppealStore {
	return &AppealStore{appeals: make(map[uuid.UUID]*types.Appeal)}
}

// Save inserts or replaces the appeal. A write older than the stored copy is
// ignored so late writers cannot roll an appeal back.
func (s *AppealStore) Save(_ context.Context, appeal *types.Appeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.appeals[appeal.ID]; ok && existing.UpdatedAt.After(appeal.UpdatedAt) {
		return nil
	}

	s.appeals[appeal.ID] = appeal.Clone()
	return nil
}

// FindByID returns a copy of the appeal.
func (s *AppealStore) FindByID(_ context.Context, id uuid.UUID) (*types.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appeal, ok := s.appeals[id]
	if !ok {
		return nil, fmt.Errorf("%w (appealID=%s)", types.ErrAppealNotFound, id)
	}
	return appeal.Clone(), nil
}

// FindByUser returns copies of the user's appeals in the guild, oldest first.
func (s *AppealStore) FindByUser(_ context.Context, userID, guildID uint64) ([]*types.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var appeals []*types.Appeal
	for _, appeal := range s.appeals {
		if appeal.UserID == userID && appeal.GuildID == guildID {
			appeals = append(appeals, appeal.Clone())
		}
	}

	sortBySubmission(appeals)
	return appeals, nil
}

// FindOpen returns copies of every non-terminal appeal, oldest first.
func (s *AppealStore) FindOpen(_ context.Context) ([]*types.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var appeals []*types.Appeal
	for _, appeal := range s.appeals {
		if !appeal.Status.IsTerminal() {
			appeals = append(appeals, appeal.Clone())
		}
	}

	sortBySubmission(appeals)
	return appeals, nil
}

// Len returns the number of stored appeals.
func (s *AppealStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.appeals)
}

func sortBySubmission(appeals []*types.Appeal) {
	slices.SortFunc(appeals, func(a, b *types.Appeal) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}
