package workflow_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/appeal/workflow"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMirror struct {
	mu        sync.Mutex
	snapshots []workflow.Snapshot
}

func (r *recordingMirror) Publish(snap workflow.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
}

func (r *recordingMirror) Last() workflow.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

func setupManager(
	t *testing.T, mutate func(*config.WorkflowConfig), opts ...workflow.Option,
) (*workflow.Manager, *fakeClock) {
	t.Helper()

	cfg := config.DefaultAppealConfig()
	if mutate != nil {
		mutate(&cfg.Workflow)
	}

	clock := newClock()
	opts = append([]workflow.Option{workflow.WithClock(clock.Now)}, opts...)

	return workflow.NewManager(config.NewSource(cfg, zap.NewNop()), zap.NewNop(), opts...), clock
}

var actionSeq atomic.Int64

func submit(t *testing.T, m *workflow.Manager, clock *fakeClock, path enum.ProcessingPath) *types.Appeal {
	t.Helper()

	a := &types.Appeal{
		ID:          uuid.New(),
		UserID:      100,
		GuildID:     1,
		ActionID:    actionSeq.Add(1),
		Status:      enum.AppealStatusPendingAnalysis,
		SubmittedAt: clock.Now(),
	}
	require.NoError(t, m.Track(a))

	queued, _, err := m.Enqueue(a.ID, path, nil)
	require.NoError(t, err)
	require.Equal(t, enum.AppealStatusPendingReview, queued.Status)

	return queued
}

func TestEnqueueLaneSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		priorityLane bool
		path         enum.ProcessingPath
		want         workflow.Lane
	}{
		{"priority review", true, enum.ProcessingPathPriorityReview, workflow.LanePriority},
		{"escalated review", true, enum.ProcessingPathEscalatedReview, workflow.LanePriority},
		{"manual review", true, enum.ProcessingPathManualReview, workflow.LaneRegular},
		{"fast track", true, enum.ProcessingPathFastTrack, workflow.LaneRegular},
		{"priority lane disabled", false, enum.ProcessingPathPriorityReview, workflow.LaneRegular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, clock := setupManager(t, func(c *config.WorkflowConfig) {
				c.PriorityLaneEnabled = tt.priorityLane
			})

			a := submit(t, m, clock, tt.path)
			lane, pos := m.Snapshot().Position(a.ID)
			assert.Equal(t, tt.want, lane)
			assert.Equal(t, 1, pos)
			assert.Equal(t, 1, m.Size())
			assert.Equal(t, a.SubmittedAt.Add(48*time.Hour), a.ReviewDeadline)
		})
	}
}

func TestEnqueueRequiresPendingAnalysis(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)
	a := submit(t, m, clock, enum.ProcessingPathManualReview)

	_, _, err := m.Enqueue(a.ID, enum.ProcessingPathManualReview, nil)
	require.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, 1, m.Size())

	_, _, err = m.Enqueue(uuid.New(), enum.ProcessingPathManualReview, nil)
	require.ErrorIs(t, err, types.ErrAppealNotFound)
}

func TestTrackRejectsSecondAppealForAction(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)
	first := submit(t, m, clock, enum.ProcessingPathManualReview)

	second := &types.Appeal{
		ID:          uuid.New(),
		UserID:      first.UserID,
		GuildID:     first.GuildID,
		ActionID:    first.ActionID,
		Status:      enum.AppealStatusPendingAnalysis,
		SubmittedAt: clock.Now(),
	}
	require.ErrorIs(t, m.Track(second), types.ErrDuplicateAppeal)

	// Once the first appeal closes the action can be appealed again
	_, err := m.Cancel(first.ID, first.UserID)
	require.NoError(t, err)
	require.NoError(t, m.Track(second))
}

func TestClaimNextOrdering(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)

	manual := submit(t, m, clock, enum.ProcessingPathManualReview)
	clock.Advance(time.Minute)
	fast := submit(t, m, clock, enum.ProcessingPathFastTrack)
	clock.Advance(time.Minute)
	escalated := submit(t, m, clock, enum.ProcessingPathEscalatedReview)
	clock.Advance(time.Minute)
	priority := submit(t, m, clock, enum.ProcessingPathPriorityReview)

	// Priority lane first in FIFO order, then fast track ahead of manual
	want := []uuid.UUID{escalated.ID, priority.ID, fast.ID, manual.ID}
	for i, id := range want {
		got, err := m.ClaimNext(uint64(500 + i))
		require.NoError(t, err)
		assert.Equal(t, id, got.ID, "claim %d", i)
		assert.Equal(t, enum.AppealStatusUnderReview, got.Status)
		assert.Equal(t, uint64(500+i), got.ReviewClaimedBy)
	}

	_, err := m.ClaimNext(900)
	require.ErrorIs(t, err, workflow.ErrQueueEmpty)
	assert.Equal(t, 4, m.InFlight())
}

func TestClaimNextPriorityLaneAlwaysFirst(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)

	paths := []enum.ProcessingPath{
		enum.ProcessingPathManualReview,
		enum.ProcessingPathPriorityReview,
		enum.ProcessingPathFastTrack,
		enum.ProcessingPathEscalatedReview,
		enum.ProcessingPathManualReview,
		enum.ProcessingPathPriorityReview,
	}
	for _, p := range paths {
		submit(t, m, clock, p)
		clock.Advance(time.Second)
	}

	seenRegular := false
	for range paths {
		got, err := m.ClaimNext(7)
		require.NoError(t, err)

		inPriority := got.ProcessingPath == enum.ProcessingPathPriorityReview ||
			got.ProcessingPath == enum.ProcessingPathEscalatedReview
		if inPriority {
			assert.False(t, seenRegular, "priority appeal dequeued after a regular one")
		} else {
			seenRegular = true
		}
	}
}

func TestAgedRegularEntryIsPromoted(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, func(c *config.WorkflowConfig) {
		c.RegularLanePromoteAfterHours = 6
		c.ReviewTimeoutHours = 72
	})

	old := submit(t, m, clock, enum.ProcessingPathManualReview)
	clock.Advance(7 * time.Hour)
	submit(t, m, clock, enum.ProcessingPathPriorityReview)

	got, err := m.ClaimNext(1)
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.ID)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)
	a := submit(t, m, clock, enum.ProcessingPathManualReview)

	const reviewers = 32

	var (
		wins      atomic.Int32
		conflicts atomic.Int32
		wg        conc.WaitGroup
	)
	for i := range reviewers {
		wg.Go(func() {
			_, err := m.Claim(a.ID, uint64(1000+i))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, types.ErrClaimConflict):
				conflicts.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(reviewers-1), conflicts.Load())
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 1, m.InFlight())
}

func TestClaimCapacity(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, func(c *config.WorkflowConfig) {
		c.MaxConcurrentReviews = 1
	})

	first := submit(t, m, clock, enum.ProcessingPathManualReview)
	second := submit(t, m, clock, enum.ProcessingPathManualReview)

	_, err := m.ClaimNext(1)
	require.NoError(t, err)

	_, err = m.ClaimNext(2)
	require.ErrorIs(t, err, workflow.ErrReviewCapacity)
	_, err = m.Claim(second.ID, 2)
	require.ErrorIs(t, err, workflow.ErrReviewCapacity)

	// The refused appeal stays queued
	lane, _ := m.Snapshot().Position(second.ID)
	assert.Equal(t, workflow.LaneRegular, lane)

	// Closing the first review frees the slot
	_, err = m.Apply(first.ID, enum.AppealStatusApproved, nil, nil)
	require.NoError(t, err)

	got, err := m.ClaimNext(2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestClaimInvalidStatus(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)

	a := &types.Appeal{
		ID:          uuid.New(),
		GuildID:     1,
		Status:      enum.AppealStatusPendingAnalysis,
		SubmittedAt: clock.Now(),
	}
	require.NoError(t, m.Track(a))

	_, err := m.Claim(a.ID, 5)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = m.Claim(uuid.New(), 5)
	require.ErrorIs(t, err, types.ErrAppealNotFound)
}

func TestReaperExpiresQueuedAppealOnce(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	mirror := &recordingMirror{}

	m, clock := setupManager(t, nil,
		workflow.WithMirror(mirror),
		workflow.WithExpiryHandler(func(a *types.Appeal) {
			assert.Equal(t, enum.AppealStatusExpired, a.Status)
			handled.Add(1)
		}),
	)

	a := submit(t, m, clock, enum.ProcessingPathManualReview)

	clock.Advance(47 * time.Hour)
	assert.Empty(t, m.ReapExpired())

	clock.Advance(2 * time.Hour)
	expired := m.ReapExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, a.ID, expired[0].ID)
	assert.Equal(t, clock.Now(), expired[0].ClosedAt)

	assert.Empty(t, m.ReapExpired())
	assert.Equal(t, int32(1), handled.Load())

	// Gone from both lanes and from the live set
	snap := m.Snapshot()
	lane, _ := snap.Position(a.ID)
	assert.Equal(t, workflow.LaneNone, lane)
	assert.Equal(t, 0, snap.Size())
	_, ok := m.Get(a.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, mirror.Last().Size())
}

func TestReaperMeasuresClaimsFromClaimTime(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)
	a := submit(t, m, clock, enum.ProcessingPathManualReview)

	clock.Advance(47 * time.Hour)
	claimed, err := m.Claim(a.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(48*time.Hour), claimed.ReviewDeadline)

	clock.Advance(2 * time.Hour)
	assert.Empty(t, m.ReapExpired())

	clock.Advance(47 * time.Hour)
	expired := m.ReapExpired()
	require.Len(t, expired, 1)
	assert.Zero(t, expired[0].ReviewClaimedBy)
	assert.Equal(t, 0, m.InFlight())

	// A decision after expiry is refused
	_, err = m.Apply(a.ID, enum.AppealStatusApproved, nil, nil)
	require.ErrorIs(t, err, types.ErrAppealNotFound)
}

func TestCancelPermissions(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)

	queued := submit(t, m, clock, enum.ProcessingPathManualReview)
	_, err := m.Cancel(queued.ID, 12345)
	require.ErrorIs(t, err, workflow.ErrCancelForbidden)

	cancelled, err := m.Cancel(queued.ID, queued.UserID)
	require.NoError(t, err)
	assert.Equal(t, enum.AppealStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, m.Size())

	claimed := submit(t, m, clock, enum.ProcessingPathManualReview)
	_, err = m.Claim(claimed.ID, 77)
	require.NoError(t, err)

	cancelled, err = m.Cancel(claimed.ID, 77)
	require.NoError(t, err)
	assert.Equal(t, enum.AppealStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, m.InFlight())

	// Terminal appeals are no longer live
	_, err = m.Cancel(claimed.ID, claimed.UserID)
	require.ErrorIs(t, err, types.ErrAppealNotFound)
}

func TestApplyRefusalLeavesAppealUntouched(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)
	a := submit(t, m, clock, enum.ProcessingPathManualReview)
	before, _ := m.Get(a.ID)

	mutated := false
	_, err := m.Apply(a.ID, enum.AppealStatusApproved, nil, func(*types.Appeal) { mutated = true })
	require.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.False(t, mutated)

	after, _ := m.Get(a.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, m.Size())
}

func TestRestoreRebuildsLanes(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, func(c *config.WorkflowConfig) {
		c.MaxConcurrentReviews = 1
	})
	now := clock.Now()

	queued := &types.Appeal{
		ID:             uuid.New(),
		GuildID:        1,
		ActionID:       1,
		Status:         enum.AppealStatusPendingReview,
		ProcessingPath: enum.ProcessingPathPriorityReview,
		SubmittedAt:    now,
		UpdatedAt:      now,
	}
	claimed := &types.Appeal{
		ID:              uuid.New(),
		GuildID:         1,
		ActionID:        2,
		Status:          enum.AppealStatusUnderReview,
		ProcessingPath:  enum.ProcessingPathManualReview,
		ReviewClaimedBy: 3,
		SubmittedAt:     now,
		ClaimedAt:       now,
	}
	closed := &types.Appeal{ID: uuid.New(), Status: enum.AppealStatusApproved}

	require.NoError(t, m.Restore(queued))
	require.NoError(t, m.Restore(claimed))
	require.ErrorIs(t, m.Restore(closed), types.ErrInvalidTransition)
	require.ErrorIs(t, m.Restore(queued), types.ErrDuplicateAppeal)

	lane, pos := m.Snapshot().Position(queued.ID)
	assert.Equal(t, workflow.LanePriority, lane)
	assert.Equal(t, 1, pos)

	// The restored claim still occupies the only slot
	_, err := m.ClaimNext(4)
	require.ErrorIs(t, err, workflow.ErrReviewCapacity)
}

func TestMirrorSeesIncreasingVersions(t *testing.T) {
	t.Parallel()

	mirror := &recordingMirror{}
	m, clock := setupManager(t, nil, workflow.WithMirror(mirror))

	a := submit(t, m, clock, enum.ProcessingPathFastTrack)
	_, err := m.Claim(a.ID, 1)
	require.NoError(t, err)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()

	require.Len(t, mirror.snapshots, 2)
	assert.Less(t, mirror.snapshots[0].Version, mirror.snapshots[1].Version)
	assert.Equal(t, 1, mirror.snapshots[0].Size())
	assert.Equal(t, 0, mirror.snapshots[1].Size())
	assert.Equal(t, 1, mirror.snapshots[1].UnderReview)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	m, _ := setupManager(t, nil)
	m.Start(t.Context())
	m.Stop()
	m.Stop()
}

func TestRollbackRestoresClaim(t *testing.T) {
	t.Parallel()

	mirror := &recordingMirror{}
	m, clock := setupManager(t, nil, workflow.WithMirror(mirror))

	first := submit(t, m, clock, enum.ProcessingPathManualReview)
	clock.Advance(time.Minute)
	second := submit(t, m, clock, enum.ProcessingPathManualReview)
	before, _ := m.Get(first.ID)

	claimed, err := m.ClaimNext(9001)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, 1, m.InFlight())
	claimVersion := mirror.Last().Version

	require.True(t, m.Rollback(first.ID))
	assert.False(t, m.Rollback(first.ID))

	after, ok := m.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, m.InFlight())
	assert.Less(t, claimVersion, mirror.Last().Version)

	// Back at the head of its lane, ahead of the later appeal
	snap := m.Snapshot()
	lane, pos := snap.Position(first.ID)
	assert.Equal(t, workflow.LaneRegular, lane)
	assert.Equal(t, 1, pos)
	_, pos = snap.Position(second.ID)
	assert.Equal(t, 2, pos)

	got, err := m.ClaimNext(9002)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, uint64(9002), got.ReviewClaimedBy)
}

func TestRollbackRestoresEnqueue(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)

	a := &types.Appeal{
		ID:          uuid.New(),
		UserID:      100,
		GuildID:     1,
		ActionID:    actionSeq.Add(1),
		Status:      enum.AppealStatusPendingAnalysis,
		SubmittedAt: clock.Now(),
	}
	require.NoError(t, m.Track(a))
	before, _ := m.Get(a.ID)

	_, _, err := m.Enqueue(a.ID, enum.ProcessingPathPriorityReview, &types.AutoReviewResult{Confidence: 0.5})
	require.NoError(t, err)
	require.Equal(t, 1, m.Size())

	require.True(t, m.Rollback(a.ID))

	after, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, m.Size())

	// The appeal can be routed again
	queued, lane, err := m.Enqueue(a.ID, enum.ProcessingPathPriorityReview, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.LanePriority, lane)
	assert.Equal(t, enum.AppealStatusPendingReview, queued.Status)
}

func TestRollbackRefusedAfterLaterChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		change func(m *workflow.Manager, a *types.Appeal) error
	}{
		{
			name: "cancelled by appellant",
			change: func(m *workflow.Manager, a *types.Appeal) error {
				_, err := m.Cancel(a.ID, a.UserID)
				return err
			},
		},
		{
			name: "decided by claimant",
			change: func(m *workflow.Manager, a *types.Appeal) error {
				_, err := m.Apply(a.ID, enum.AppealStatusRejected, nil, nil)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, clock := setupManager(t, nil)
			a := submit(t, m, clock, enum.ProcessingPathManualReview)

			_, err := m.Claim(a.ID, 44)
			require.NoError(t, err)
			require.NoError(t, tt.change(m, a))

			assert.False(t, m.Rollback(a.ID))
			assert.Equal(t, 0, m.InFlight())
			assert.Equal(t, 0, m.Size())
			_, ok := m.Get(a.ID)
			assert.False(t, ok)
		})
	}
}

func TestEnqueueRefusesUnreviewedPath(t *testing.T) {
	t.Parallel()

	for _, path := range []enum.ProcessingPath{enum.ProcessingPathAutoReview, enum.ProcessingPathUnrouted} {
		t.Run(path.String(), func(t *testing.T) {
			t.Parallel()

			m, clock := setupManager(t, nil)
			a := &types.Appeal{
				ID:          uuid.New(),
				GuildID:     1,
				ActionID:    actionSeq.Add(1),
				Status:      enum.AppealStatusPendingAnalysis,
				SubmittedAt: clock.Now(),
			}
			require.NoError(t, m.Track(a))

			_, _, err := m.Enqueue(a.ID, path, nil)
			require.ErrorIs(t, err, workflow.ErrNotReviewPath)

			got, _ := m.Get(a.ID)
			assert.Equal(t, enum.AppealStatusPendingAnalysis, got.Status)
			assert.Equal(t, 0, m.Size())
		})
	}
}

func TestApplyRequiresAutoPathFromAnalysis(t *testing.T) {
	t.Parallel()

	m, clock := setupManager(t, nil)
	a := &types.Appeal{
		ID:          uuid.New(),
		GuildID:     1,
		ActionID:    actionSeq.Add(1),
		Status:      enum.AppealStatusPendingAnalysis,
		SubmittedAt: clock.Now(),
	}
	require.NoError(t, m.Track(a))

	_, err := m.Apply(a.ID, enum.AppealStatusApproved, nil, func(a *types.Appeal) {
		a.Review = &types.AppealReview{Decision: enum.DecisionApprove}
	})
	require.ErrorIs(t, err, workflow.ErrNotReviewPath)

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, enum.AppealStatusPendingAnalysis, got.Status)
	assert.Nil(t, got.Review)

	decided, err := m.Apply(a.ID, enum.AppealStatusApproved, nil, func(a *types.Appeal) {
		a.ProcessingPath = enum.ProcessingPathAutoReview
	})
	require.NoError(t, err)
	assert.Equal(t, enum.AppealStatusApproved, decided.Status)
	assert.Equal(t, enum.ProcessingPathAutoReview, decided.ProcessingPath)
}

func TestReaperRacesClaimAndCancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// claimFirst claims the appeal before the deadline passes
		claimFirst bool
		act        func(m *workflow.Manager, a *types.Appeal) error
	}{
		{
			name: "claim of a queued appeal",
			act: func(m *workflow.Manager, a *types.Appeal) error {
				_, err := m.Claim(a.ID, 31)
				return err
			},
		},
		{
			name: "cancel of a queued appeal",
			act: func(m *workflow.Manager, a *types.Appeal) error {
				_, err := m.Cancel(a.ID, a.UserID)
				return err
			},
		},
		{
			name:       "cancel of a claimed appeal",
			claimFirst: true,
			act: func(m *workflow.Manager, a *types.Appeal) error {
				_, err := m.Cancel(a.ID, 30)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for range 50 {
				var expiries atomic.Int32
				m, clock := setupManager(t, nil, workflow.WithExpiryHandler(func(*types.Appeal) {
					expiries.Add(1)
				}))
				a := submit(t, m, clock, enum.ProcessingPathManualReview)

				if tt.claimFirst {
					_, err := m.Claim(a.ID, 30)
					require.NoError(t, err)
				}
				clock.Advance(48*time.Hour + time.Second)

				var (
					expired []*types.Appeal
					actErr  error
					wg      conc.WaitGroup
				)
				wg.Go(func() { expired = m.ReapExpired() })
				wg.Go(func() { actErr = tt.act(m, a) })
				wg.Wait()

				reaped := len(expired) == 1
				acted := actErr == nil
				require.NotEqual(t, reaped, acted, "exactly one of expiry and %s must win", tt.name)
				if reaped {
					require.ErrorIs(t, actErr, types.ErrAppealNotFound)
					assert.Equal(t, int32(1), expiries.Load())
				} else {
					assert.Empty(t, expired)
					assert.Zero(t, expiries.Load())
				}

				assert.Equal(t, 0, m.Size())
				lane, _ := m.Snapshot().Position(a.ID)
				assert.Equal(t, workflow.LaneNone, lane)

				live, ok := m.Get(a.ID)
				if ok {
					// Only a fresh claim keeps the appeal live
					assert.Equal(t, enum.AppealStatusUnderReview, live.Status)
					assert.Equal(t, 1, m.InFlight())
				} else {
					assert.Equal(t, 0, m.InFlight())
				}
			}
		})
	}
}
