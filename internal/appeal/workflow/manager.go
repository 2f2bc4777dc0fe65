package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"go.uber.org/zap"
)

var (
	// ErrQueueEmpty is returned by ClaimNext when no appeal is waiting.
	ErrQueueEmpty = errors.New("no appeal available for review")
	// ErrReviewCapacity is returned when the in-flight review cap is reached.
	ErrReviewCapacity = errors.New("maximum concurrent reviews reached")
	// ErrCancelForbidden is returned when the requester may not withdraw the appeal.
	ErrCancelForbidden = errors.New("requester may not cancel this appeal")
	// ErrNotReviewPath is returned when an appeal is queued or decided on the wrong path.
	ErrNotReviewPath = errors.New("processing path does not allow this change")
)

// Settings supplies workflow parameters per guild. Guild 0 resolves to the
// file-level parameters, which govern the shared reviewer pool.
type Settings interface {
	Workflow(guildID uint64) config.WorkflowConfig
}

// Mirror receives lane snapshots after every change. Publish must not block.
type Mirror interface {
	Publish(snapshot Snapshot)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMirror publishes lane snapshots to the given mirror.
func WithMirror(mirror Mirror) Option {
	return func(m *Manager) {
		m.mirror = mirror
	}
}

// WithExpiryHandler registers a callback run for every appeal the reaper expires.
// The callback runs outside the manager lock.
func WithExpiryHandler(fn func(*types.Appeal)) Option {
	return func(m *Manager) {
		m.onExpire = fn
	}
}

// Manager owns every live appeal and the two review lanes. All status changes
// of a live appeal go through its methods, each of which checks the current
// status and applies the change under a single lock.
type Manager struct {
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
	mirror   Mirror
	onExpire func(*types.Appeal)

	mu          sync.Mutex
	appeals     map[uuid.UUID]*types.Appeal
	priority    []Entry
	regular     []Entry
	underReview int
	version     uint64
	undo        map[uuid.UUID]undoRecord

	stopChan chan struct{}
	stopped  bool
	started  bool
}

// NewManager creates an empty workflow manager.
func NewManager(settings Settings, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		settings: settings,
		logger:   logger.Named("workflow"),
		now:      time.Now,
		appeals:  make(map[uuid.UUID]*types.Appeal),
		undo:     make(map[uuid.UUID]undoRecord),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track registers a newly submitted appeal in PENDING_ANALYSIS.
// A second open appeal against the same moderation action is refused.
func (m *Manager) Track(a *types.Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Status != enum.AppealStatusPendingAnalysis {
		return fmt.Errorf("%w: cannot track appeal in %s (appealID=%s)",
			types.ErrInvalidTransition, a.Status, a.ID)
	}

	if _, ok := m.appeals[a.ID]; ok {
		return fmt.Errorf("%w: appeal already tracked (appealID=%s)", types.ErrDuplicateAppeal, a.ID)
	}

	for _, open := range m.appeals {
		if open.GuildID == a.GuildID && open.ActionID == a.ActionID {
			return fmt.Errorf("%w (actionID=%d, openAppealID=%s)",
				types.ErrDuplicateAppeal, a.ActionID, open.ID)
		}
	}

	m.appeals[a.ID] = a.Clone()
	return nil
}

// Untrack forgets an appeal that never left PENDING_ANALYSIS.
// Used to undo a submission whose first save failed.
func (m *Manager) Untrack(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appeals[id]
	if !ok || a.Status != enum.AppealStatusPendingAnalysis {
		return false
	}

	delete(m.appeals, id)
	delete(m.undo, id)
	return true
}

// Restore registers an open appeal loaded from storage. Queued appeals rejoin
// their lane and claimed appeals count against the review cap again.
func (m *Manager) Restore(a *types.Appeal) error {
	m.mu.Lock()

	if _, ok := m.appeals[a.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: appeal already tracked (appealID=%s)", types.ErrDuplicateAppeal, a.ID)
	}

	restored := a.Clone()
	switch restored.Status {
	case enum.AppealStatusPendingAnalysis:
	case enum.AppealStatusPendingReview:
		enqueuedAt := restored.UpdatedAt
		if enqueuedAt.IsZero() {
			enqueuedAt = restored.SubmittedAt
		}
		m.pushLocked(restored, laneFor(restored.ProcessingPath, m.settings.Workflow(restored.GuildID)), enqueuedAt)
	case enum.AppealStatusUnderReview:
		m.underReview++
	case enum.AppealStatusApproved,
		enum.AppealStatusRejected,
		enum.AppealStatusExpired,
		enum.AppealStatusCancelled:
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot restore appeal in %s (appealID=%s)",
			types.ErrInvalidTransition, restored.Status, restored.ID)
	}

	m.appeals[restored.ID] = restored
	m.version++
	snap := m.snapshotLocked(m.now())
	m.mu.Unlock()

	m.publish(snap)
	return nil
}

// Enqueue moves an analysed appeal into PENDING_REVIEW and places it in its lane.
func (m *Manager) Enqueue(
	id uuid.UUID, path enum.ProcessingPath, analysis *types.AutoReviewResult,
) (*types.Appeal, Lane, error) {
	now := m.now()

	m.mu.Lock()

	a, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, LaneNone, err
	}

	if err := checkTransition(a, enum.AppealStatusPendingReview); err != nil {
		m.mu.Unlock()
		return nil, LaneNone, err
	}

	if !path.IsHumanReviewed() {
		m.mu.Unlock()
		return nil, LaneNone, fmt.Errorf("%w: cannot queue %s appeal (appealID=%s)", ErrNotReviewPath, path, id)
	}

	cfg := m.settings.Workflow(a.GuildID)
	lane := laneFor(path, cfg)
	prev := undoRecord{prev: a.Clone()}

	a.ProcessingPath = path
	a.Analysis = analysis
	a.ReviewDeadline = a.SubmittedAt.Add(cfg.ReviewTimeout())
	m.transitionLocked(a, enum.AppealStatusPendingReview, now)
	m.pushLocked(a, lane, now)
	m.undo[id] = prev

	out := a.Clone()
	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.publish(snap)
	m.logger.Debug("Appeal queued for review",
		zap.String("appealID", id.String()),
		zap.String("path", path.String()),
		zap.String("lane", lane.String()))

	return out, lane, nil
}

// ClaimNext gives the reviewer the next waiting appeal. It returns
// ErrQueueEmpty immediately when nothing is waiting and ErrReviewCapacity
// when the cap on in-flight reviews is reached.
func (m *Manager) ClaimNext(reviewerID uint64) (*types.Appeal, error) {
	now := m.now()

	m.mu.Lock()

	entry, ok := m.peekLocked(now)
	if !ok {
		m.mu.Unlock()
		return nil, ErrQueueEmpty
	}

	if err := m.checkCapacityLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	a := m.appeals[entry.AppealID]
	m.claimLocked(a, reviewerID, now)

	out := a.Clone()
	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.publish(snap)
	return out, nil
}

// Claim gives the reviewer a specific waiting appeal. Losing a race to
// another reviewer returns ErrClaimConflict.
func (m *Manager) Claim(id uuid.UUID, reviewerID uint64) (*types.Appeal, error) {
	now := m.now()

	m.mu.Lock()

	a, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	switch a.Status {
	case enum.AppealStatusPendingReview:
	case enum.AppealStatusUnderReview:
		claimant := a.ReviewClaimedBy
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (appealID=%s, claimedBy=%d)", types.ErrClaimConflict, id, claimant)
	case enum.AppealStatusPendingAnalysis,
		enum.AppealStatusApproved,
		enum.AppealStatusRejected,
		enum.AppealStatusExpired,
		enum.AppealStatusCancelled:
		status := a.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot claim appeal in %s (appealID=%s)",
			types.ErrInvalidTransition, status, id)
	}

	if err := m.checkCapacityLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.claimLocked(a, reviewerID, now)

	out := a.Clone()
	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.publish(snap)
	return out, nil
}

// Apply performs a guarded status change on a live appeal. guard sees a copy
// of the current state and may refuse the change; mutate sets the fields that
// accompany it. Nothing is modified unless every check passes.
// Deciding an appeal straight out of PENDING_ANALYSIS requires mutate to put
// it on the auto-review path.
func (m *Manager) Apply(
	id uuid.UUID, to enum.AppealStatus, guard func(*types.Appeal) error, mutate func(*types.Appeal),
) (*types.Appeal, error) {
	now := m.now()

	m.mu.Lock()

	a, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if guard != nil {
		if err := guard(a.Clone()); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}

	if err := checkTransition(a, to); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	next := a.Clone()
	if mutate != nil {
		mutate(next)
	}

	if a.Status == enum.AppealStatusPendingAnalysis && next.ProcessingPath != enum.ProcessingPathAutoReview {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s appeal cannot leave %s for %s (appealID=%s)",
			ErrNotReviewPath, next.ProcessingPath, a.Status, to, id)
	}

	*a = *next
	m.transitionLocked(a, to, now)

	out := a.Clone()
	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.publish(snap)
	return out, nil
}

// Cancel withdraws an appeal on behalf of the appellant or the reviewer
// holding the claim.
func (m *Manager) Cancel(id uuid.UUID, requesterID uint64) (*types.Appeal, error) {
	return m.Apply(id, enum.AppealStatusCancelled, func(a *types.Appeal) error {
		if requesterID == a.UserID || a.IsClaimedBy(requesterID) {
			return nil
		}
		return fmt.Errorf("%w (appealID=%s, requesterID=%d)", ErrCancelForbidden, id, requesterID)
	}, nil)
}

// Rollback reverts the most recent Enqueue or claim of an appeal whose new
// state could not be saved. The appeal gets back its previous fields, status
// and lane position. It returns false when the appeal has changed again since.
func (m *Manager) Rollback(id uuid.UUID) bool {
	now := m.now()

	m.mu.Lock()

	rec, ok := m.undo[id]
	a, live := m.appeals[id]
	if !ok || !live {
		m.mu.Unlock()
		return false
	}
	delete(m.undo, id)

	switch a.Status {
	case enum.AppealStatusPendingReview:
		m.removeLocked(id)
	case enum.AppealStatusUnderReview:
		m.underReview--
	case enum.AppealStatusPendingAnalysis,
		enum.AppealStatusApproved,
		enum.AppealStatusRejected,
		enum.AppealStatusExpired,
		enum.AppealStatusCancelled:
	}

	if rec.lane != LaneNone {
		m.insertLocked(rec.lane, rec.index, rec.entry)
	}
	m.appeals[id] = rec.prev
	m.version++

	status := rec.prev.Status
	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.publish(snap)
	m.logger.Warn("Rolled back appeal change",
		zap.String("appealID", id.String()),
		zap.String("status", status.String()))

	return true
}

// Get returns a copy of a live appeal.
func (m *Manager) Get(id uuid.UUID) (*types.Appeal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appeals[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Size returns the number of queued appeals across both lanes.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.priority) + len(m.regular)
}

// InFlight returns the number of appeals currently under review.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.underReview
}

// Snapshot returns the current lane state.
func (m *Manager) Snapshot() Snapshot {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked(now)
}

// lookupLocked finds a live appeal.
func (m *Manager) lookupLocked(id uuid.UUID) (*types.Appeal, error) {
	a, ok := m.appeals[id]
	if !ok {
		return nil, fmt.Errorf("%w: not open in workflow (appealID=%s)", types.ErrAppealNotFound, id)
	}
	return a, nil
}

// checkCapacityLocked refuses a claim when the review cap is reached.
func (m *Manager) checkCapacityLocked() error {
	limit := m.settings.Workflow(0).MaxConcurrentReviews
	if limit > 0 && m.underReview >= limit {
		return fmt.Errorf("%w (limit=%d)", ErrReviewCapacity, limit)
	}
	return nil
}

// claimLocked moves a queued appeal to UNDER_REVIEW for the reviewer.
func (m *Manager) claimLocked(a *types.Appeal, reviewerID uint64, now time.Time) {
	prev := undoRecord{prev: a.Clone()}
	prev.lane, prev.index, prev.entry = m.locateLocked(a.ID)

	a.ReviewClaimedBy = reviewerID
	a.ClaimedAt = now
	a.ReviewDeadline = now.Add(m.settings.Workflow(a.GuildID).ReviewTimeout())
	m.transitionLocked(a, enum.AppealStatusUnderReview, now)
	m.undo[a.ID] = prev

	m.logger.Debug("Appeal claimed",
		zap.String("appealID", a.ID.String()),
		zap.Uint64("reviewerID", reviewerID))
}

// transitionLocked applies an already validated status change and keeps the
// lanes, the review count and the live set consistent with it.
func (m *Manager) transitionLocked(a *types.Appeal, to enum.AppealStatus, now time.Time) {
	delete(m.undo, a.ID)

	switch a.Status {
	case enum.AppealStatusPendingReview:
		m.removeLocked(a.ID)
	case enum.AppealStatusUnderReview:
		m.underReview--
	case enum.AppealStatusPendingAnalysis,
		enum.AppealStatusApproved,
		enum.AppealStatusRejected,
		enum.AppealStatusExpired,
		enum.AppealStatusCancelled:
	}

	a.Status = to
	a.UpdatedAt = now

	switch {
	case to == enum.AppealStatusUnderReview:
		m.underReview++
	case to.IsTerminal():
		a.ReviewClaimedBy = 0
		a.ClosedAt = now
		delete(m.appeals, a.ID)
	}

	m.version++
}

// publish hands a snapshot to the mirror, if any.
func (m *Manager) publish(snap Snapshot) {
	if m.mirror != nil {
		m.mirror.Publish(snap)
	}
}

// checkTransition validates a status change against the transition table.
func checkTransition(a *types.Appeal, to enum.AppealStatus) error {
	if !a.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (appealID=%s)", types.ErrInvalidTransition, a.Status, to, a.ID)
	}
	return nil
}
