package history_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/robalyx/arbiter/internal/appeal/history"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	appeals []*types.Appeal
	reads   int
	// hold, when set, parks the next read after it has copied the appeals.
	hold *heldRead
}

type heldRead struct {
	entered chan struct{}
	release chan struct{}
}

func (s *fakeStore) holdNextRead() *heldRead {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hold = &heldRead{entered: make(chan struct{}), release: make(chan struct{})}
	return s.hold
}

func (s *fakeStore) setStatus(id uuid.UUID, status enum.AppealStatus) *types.Appeal {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.appeals {
		if a.ID == id {
			a.Status = status
			return a.Clone()
		}
	}
	return nil
}

func (s *fakeStore) add(status enum.AppealStatus, submitted time.Time) *types.Appeal {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &types.Appeal{ID: uuid.New(), UserID: 1, GuildID: 2, Status: status, SubmittedAt: submitted}
	s.appeals = append(s.appeals, a)
	return a
}

func (s *fakeStore) FindByUser(_ context.Context, userID, guildID uint64) ([]*types.Appeal, error) {
	s.mu.Lock()
	s.reads++
	var out []*types.Appeal
	for _, a := range s.appeals {
		if a.UserID == userID && a.GuildID == guildID {
			out = append(out, a.Clone())
		}
	}
	hold := s.hold
	s.hold = nil
	s.mu.Unlock()

	if hold != nil {
		close(hold.entered)
		<-hold.release
	}
	return out, nil
}

func (s *fakeStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	empty := history.ComputeStats(1, 2, nil)
	assert.Equal(t, 0, empty.Total)
	assert.InDelta(t, 0.0, empty.ApprovalRate, 0)

	appeals := []*types.Appeal{
		{Status: enum.AppealStatusApproved},
		{Status: enum.AppealStatusRejected},
		{Status: enum.AppealStatusRejected},
		{Status: enum.AppealStatusPendingReview},
		{Status: enum.AppealStatusUnderReview},
		{Status: enum.AppealStatusExpired},
		{Status: enum.AppealStatusCancelled},
	}

	stats := history.ComputeStats(1, 2, appeals)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 1.0/7.0, stats.ApprovalRate)
}

func TestRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tracker := history.NewTracker(store, history.NewMemoryCache(16, time.Minute), zap.NewNop())
	ctx := t.Context()

	pending := store.add(enum.AppealStatusPendingReview, time.Now())
	_, err := tracker.Record(ctx, pending)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	approved := store.add(enum.AppealStatusApproved, time.Now())
	stats, err := tracker.Record(ctx, approved)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.InDelta(t, 0.5, stats.ApprovalRate, 0)

	// Served from the cache without another read
	reads := store.readCount()
	cached, err := tracker.Stats(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, stats, cached)
	assert.Equal(t, reads, store.readCount())
}

func TestHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tracker := history.NewTracker(store, nil, zap.NewNop())

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older := store.add(enum.AppealStatusRejected, base)
	newer := store.add(enum.AppealStatusApproved, base.Add(time.Hour))

	h, err := tracker.History(t.Context(), 1, 2)
	require.NoError(t, err)
	require.Len(t, h.Appeals, 2)
	assert.Equal(t, newer.ID, h.Appeals[0].ID)
	assert.Equal(t, older.ID, h.Appeals[1].ID)
	assert.Equal(t, 2, h.Stats.Total)

	none, err := tracker.History(t.Context(), 9, 9)
	require.NoError(t, err)
	assert.Empty(t, none.Appeals)
	assert.InDelta(t, 0.0, none.Stats.ApprovalRate, 0)
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	defer client.Close()

	cache := history.NewRedisCache(client, time.Hour, zap.NewNop())
	ctx := t.Context()

	_, ok := cache.Get(ctx, 1, 2)
	assert.False(t, ok)

	want := types.UserAppealStats{UserID: 1, GuildID: 2, Total: 4, Approved: 1, ApprovalRate: 0.25}
	cache.Set(ctx, want)

	got, ok := cache.Get(ctx, 1, 2)
	require.True(t, ok)
	assert.Equal(t, want, got)

	assert.True(t, mr.Exists(history.StatsKeyPrefix+"2:1"))
	mr.FastForward(2 * time.Hour)

	_, ok = cache.Get(ctx, 1, 2)
	assert.False(t, ok)
}

func TestRecordIsNotServedByEarlierRead(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tracker := history.NewTracker(store, history.NewMemoryCache(16, time.Minute), zap.NewNop())
	ctx := t.Context()

	queued := store.add(enum.AppealStatusPendingReview, time.Now())

	// A stats read loads the queued appeal and stalls before caching it
	hold := store.holdNextRead()
	var (
		stale    types.UserAppealStats
		staleErr error
		wg       conc.WaitGroup
	)
	wg.Go(func() { stale, staleErr = tracker.Stats(ctx, 1, 2) })
	<-hold.entered

	approved := store.setStatus(queued.ID, enum.AppealStatusApproved)
	require.NotNil(t, approved)

	stats, err := tracker.Record(ctx, approved)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Approved)
	assert.Zero(t, stats.Pending)

	close(hold.release)
	wg.Wait()
	require.NoError(t, staleErr)
	assert.Equal(t, 1, stale.Pending)

	// The late read did not overwrite the recorded stats
	reads := store.readCount()
	cached, err := tracker.Stats(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, stats, cached)
	assert.Equal(t, reads, store.readCount())
}

func TestOpenedRefreshesPendingCount(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tracker := history.NewTracker(store, history.NewMemoryCache(16, time.Minute), zap.NewNop())
	ctx := t.Context()

	closed := store.add(enum.AppealStatusRejected, time.Now())
	_, err := tracker.Record(ctx, closed)
	require.NoError(t, err)

	_, err = tracker.Opened(ctx, closed)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	submitted := store.add(enum.AppealStatusPendingAnalysis, time.Now())
	stats, err := tracker.Opened(ctx, submitted)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)

	cached, err := tracker.Stats(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Pending)
	assert.Equal(t, 1, cached.Rejected)
}
