package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robalyx/arbiter/internal/database/types"
)

// Escalation is an upheld action reported to the moderators.
type Escalation struct {
	ActionID int64
	Reason   string
	At       time.Time
}

// ActionStore keeps moderation actions in a map and records reversals in
// place of calling the chat platform.
type ActionStore struct {
	mu          sync.Mutex
	now         func() time.Time
	nextID      int64
	actions     map[int64]*types.ModerationAction
	reversals   map[int64]int
	escalations []Escalation
	failWith    error
}

// NewActionStore creates an empty action store.
func NewActionStore(now func() time.Time) *ActionStore {
	if now == nil {
		now = time.Now
	}
	return &ActionStore{
		now:       now,
		actions:   make(map[int64]*types.ModerationAction),
		reversals: make(map[int64]int),
	}
}

// Add stores the action and assigns an id when it has none.
func (s *ActionStore) Add(action types.ModerationAction) *types.ModerationAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.ID == 0 {
		s.nextID++
		action.ID = s.nextID
	} else if action.ID > s.nextID {
		s.nextID = action.ID
	}
	action.Severity = action.Type.Severity()
	if action.AppliedAt.IsZero() {
		action.AppliedAt = s.now()
	}

	stored := action
	s.actions[action.ID] = &stored

	out := stored
	return &out
}

// FailWith makes Reverse and Escalate return err until it is reset with nil.
func (s *ActionStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Action returns a copy of the action.
func (s *ActionStore) Action(_ context.Context, actionID int64) (*types.ModerationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("%w (actionID=%d)", types.ErrActionNotFound, actionID)
	}

	out := *action
	return &out, nil
}

// Reverse marks the action reversed. Reversing twice is a no-op.
func (s *ActionStore) Reverse(_ context.Context, action *types.ModerationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	stored, ok := s.actions[action.ID]
	if !ok {
		return fmt.Errorf("%w (actionID=%d)", types.ErrActionNotFound, action.ID)
	}

	s.reversals[action.ID]++
	if stored.ReversedAt.IsZero() {
		stored.ReversedAt = s.now()
	}
	return nil
}

// Escalate records the escalation.
func (s *ActionStore) Escalate(_ context.Context, action *types.ModerationAction, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	s.escalations = append(s.escalations, Escalation{ActionID: action.ID, Reason: reason, At: s.now()})
	return nil
}

// Reversals returns how many times the action was reversed.
func (s *ActionStore) Reversals(actionID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reversals[actionID]
}

// Escalations returns the recorded escalations.
func (s *ActionStore) Escalations() []Escalation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Escalation(nil), s.escalations...)
}
