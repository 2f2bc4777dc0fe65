package workflow

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
)

// Lane identifies one of the review queues.
type Lane int

const (
	// LaneNone means the appeal is not queued.
	LaneNone Lane = iota
	// LanePriority holds priority and escalated reviews.
	LanePriority
	// LaneRegular holds fast-track and manual reviews.
	LaneRegular
)

// String implements fmt.Stringer.
func (l Lane) String() string {
	switch l {
	case LaneNone:
		return "none"
	case LanePriority:
		return "priority"
	case LaneRegular:
		return "regular"
	}
	return fmt.Sprintf("Lane(%d)", int(l))
}

// Entry is a queued appeal as seen by the lanes.
type Entry struct {
	AppealID   uuid.UUID           `json:"appealId"`
	UserID     uint64              `json:"userId"`
	GuildID    uint64              `json:"guildId"`
	Path       enum.ProcessingPath `json:"path"`
	EnqueuedAt time.Time           `json:"enqueuedAt"`
}

// Snapshot is a point-in-time view of both lanes.
type Snapshot struct {
	// Version increases with every change so consumers can drop stale views.
	Version     uint64    `json:"version"`
	Priority    []Entry   `json:"priority"`
	Regular     []Entry   `json:"regular"`
	UnderReview int       `json:"underReview"`
	TakenAt     time.Time `json:"takenAt"`
}

// Size returns the number of queued appeals across both lanes.
func (s Snapshot) Size() int {
	return len(s.Priority) + len(s.Regular)
}

// Position returns the 1-based position of an appeal in its lane.
func (s Snapshot) Position(id uuid.UUID) (Lane, int) {
	for i, e := range s.Priority {
		if e.AppealID == id {
			return LanePriority, i + 1
		}
	}
	for i, e := range s.Regular {
		if e.AppealID == id {
			return LaneRegular, i + 1
		}
	}
	return LaneNone, 0
}

// laneFor selects the lane a routed appeal belongs in.
func laneFor(path enum.ProcessingPath, cfg config.WorkflowConfig) Lane {
	if !cfg.PriorityLaneEnabled {
		return LaneRegular
	}

	switch path {
	case enum.ProcessingPathPriorityReview, enum.ProcessingPathEscalatedReview:
		return LanePriority
	case enum.ProcessingPathUnrouted,
		enum.ProcessingPathAutoReview,
		enum.ProcessingPathManualReview,
		enum.ProcessingPathFastTrack:
		return LaneRegular
	}
	return LaneRegular
}

// pushLocked appends an appeal to its lane. Fast-track entries are placed
// after the last fast-track entry so they come before any manual review.
func (m *Manager) pushLocked(a *types.Appeal, lane Lane, at time.Time) {
	entry := Entry{
		AppealID:   a.ID,
		UserID:     a.UserID,
		GuildID:    a.GuildID,
		Path:       a.ProcessingPath,
		EnqueuedAt: at,
	}

	switch lane {
	case LanePriority:
		m.priority = append(m.priority, entry)
	case LaneRegular:
		if entry.Path != enum.ProcessingPathFastTrack {
			m.regular = append(m.regular, entry)
			return
		}

		idx := slices.IndexFunc(m.regular, func(e Entry) bool {
			return e.Path != enum.ProcessingPathFastTrack
		})
		if idx < 0 {
			idx = len(m.regular)
		}
		m.regular = slices.Insert(m.regular, idx, entry)
	case LaneNone:
	}
}

// undoRecord is what an appeal looked like before its last reversible change.
type undoRecord struct {
	prev  *types.Appeal
	lane  Lane
	index int
	entry Entry
}

// locateLocked finds the lane entry of a queued appeal.
func (m *Manager) locateLocked(id uuid.UUID) (Lane, int, Entry) {
	match := func(e Entry) bool { return e.AppealID == id }

	if idx := slices.IndexFunc(m.priority, match); idx >= 0 {
		return LanePriority, idx, m.priority[idx]
	}
	if idx := slices.IndexFunc(m.regular, match); idx >= 0 {
		return LaneRegular, idx, m.regular[idx]
	}
	return LaneNone, 0, Entry{}
}

// insertLocked puts an entry back at its old index, or at the end of the
// lane when the lane has since shrunk.
func (m *Manager) insertLocked(lane Lane, index int, entry Entry) {
	switch lane {
	case LanePriority:
		m.priority = slices.Insert(m.priority, min(index, len(m.priority)), entry)
	case LaneRegular:
		m.regular = slices.Insert(m.regular, min(index, len(m.regular)), entry)
	case LaneNone:
	}
}

// removeLocked drops an appeal from whichever lane holds it.
func (m *Manager) removeLocked(id uuid.UUID) Lane {
	match := func(e Entry) bool { return e.AppealID == id }

	if idx := slices.IndexFunc(m.priority, match); idx >= 0 {
		m.priority = slices.Delete(m.priority, idx, idx+1)
		return LanePriority
	}
	if idx := slices.IndexFunc(m.regular, match); idx >= 0 {
		m.regular = slices.Delete(m.regular, idx, idx+1)
		return LaneRegular
	}
	return LaneNone
}

// peekLocked returns the entry the next claim should take.
// The priority lane wins unless promotion is configured and the oldest
// regular entry has waited at least the promotion age.
func (m *Manager) peekLocked(now time.Time) (Entry, bool) {
	if promoteAfter := m.settings.Workflow(0).PromoteAfter(); promoteAfter > 0 && len(m.regular) > 0 {
		oldest := 0
		for i, e := range m.regular {
			if e.EnqueuedAt.Before(m.regular[oldest].EnqueuedAt) {
				oldest = i
			}
		}
		if now.Sub(m.regular[oldest].EnqueuedAt) >= promoteAfter {
			return m.regular[oldest], true
		}
	}

	if len(m.priority) > 0 {
		return m.priority[0], true
	}
	if len(m.regular) > 0 {
		return m.regular[0], true
	}
	return Entry{}, false
}

// snapshotLocked copies the current lane state.
func (m *Manager) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		Version:     m.version,
		Priority:    slices.Clone(m.priority),
		Regular:     slices.Clone(m.regular),
		UnderReview: m.underReview,
		TakenAt:     now,
	}
}
