package history

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store reads a user's appeals within a guild.
type Store interface {
	FindByUser(ctx context.Context, userID, guildID uint64) ([]*types.Appeal, error)
}

// Cache holds computed stats between terminal transitions.
type Cache interface {
	Get(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, bool)
	Set(ctx context.Context, stats types.UserAppealStats)
}

// Tracker maintains per-user appeal history and aggregate statistics.
type Tracker struct {
	store  Store
	cache  Cache
	group  singleflight.Group
	logger *zap.Logger

	mu   sync.Mutex
	keys map[string]*keyState
}

// keyState orders cache writes for one user. epoch moves on every write so a
// read that started earlier does not cache what it loaded.
type keyState struct {
	epoch uint64
	refs  int
}

// NewTracker creates a history tracker. cache may be nil.
func NewTracker(store Store, cache Cache, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		cache:  cache,
		logger: logger.Named("history"),
		keys:   make(map[string]*keyState),
	}
}

// Opened refreshes the stats of the appeal's user after a new submission.
func (t *Tracker) Opened(ctx context.Context, appeal *types.Appeal) (types.UserAppealStats, error) {
	if appeal.Status != enum.AppealStatusPendingAnalysis {
		return types.UserAppealStats{}, fmt.Errorf("%w: history opens submitted appeals only (appealID=%s, status=%s)",
			types.ErrInvalidTransition, appeal.ID, appeal.Status)
	}
	return t.refresh(ctx, appeal.UserID, appeal.GuildID)
}

// Record recomputes the stats of the appeal's user after a terminal transition.
func (t *Tracker) Record(ctx context.Context, appeal *types.Appeal) (types.UserAppealStats, error) {
	if !appeal.Status.IsTerminal() {
		return types.UserAppealStats{}, fmt.Errorf("%w: history records terminal appeals only (appealID=%s, status=%s)",
			types.ErrInvalidTransition, appeal.ID, appeal.Status)
	}

	stats, err := t.refresh(ctx, appeal.UserID, appeal.GuildID)
	if err != nil {
		return types.UserAppealStats{}, err
	}

	t.logger.Debug("Recorded appeal outcome",
		zap.String("appealID", appeal.ID.String()),
		zap.Uint64("userID", appeal.UserID),
		zap.String("status", appeal.Status.String()),
		zap.Int("total", stats.Total),
		zap.Float64("approvalRate", stats.ApprovalRate))

	return stats, nil
}

// Stats returns the aggregate for a user, served from cache when possible.
func (t *Tracker) Stats(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, error) {
	if t.cache != nil {
		if stats, ok := t.cache.Get(ctx, userID, guildID); ok {
			return stats, nil
		}
	}
	return t.recompute(ctx, userID, guildID)
}

// History returns the user's appeals, newest first, with their aggregate.
func (t *Tracker) History(ctx context.Context, userID, guildID uint64) (*types.UserAppealHistory, error) {
	appeals, err := t.store.FindByUser(ctx, userID, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load appeal history: %w (userID=%d, guildID=%d)", err, userID, guildID)
	}

	slices.SortFunc(appeals, func(a, b *types.Appeal) int {
		return b.SubmittedAt.Compare(a.SubmittedAt)
	})

	return &types.UserAppealHistory{
		Appeals: appeals,
		Stats:   ComputeStats(userID, guildID, appeals),
	}, nil
}

// refresh reads the stats after a write and caches them. It never joins a
// read already in flight, since that read may predate the write.
func (t *Tracker) refresh(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, error) {
	key := statsKey(userID, guildID)
	t.group.Forget(key)

	epoch := t.begin(key, true)
	stats, err := t.load(ctx, userID, guildID)
	if err != nil {
		t.finish(ctx, key, epoch, nil)
		return types.UserAppealStats{}, err
	}

	t.finish(ctx, key, epoch, &stats)
	return stats, nil
}

// recompute rebuilds the stats from the full appeal set. Concurrent
// recomputes for the same user share one store read.
func (t *Tracker) recompute(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, error) {
	key := statsKey(userID, guildID)

	v, err, _ := t.group.Do(key, func() (any, error) {
		epoch := t.begin(key, false)
		stats, err := t.load(ctx, userID, guildID)
		if err != nil {
			t.finish(ctx, key, epoch, nil)
			return nil, err
		}

		t.finish(ctx, key, epoch, &stats)
		return stats, nil
	})
	if err != nil {
		return types.UserAppealStats{}, err
	}

	return v.(types.UserAppealStats), nil
}

// load computes the stats from the store.
func (t *Tracker) load(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, error) {
	appeals, err := t.store.FindByUser(ctx, userID, guildID)
	if err != nil {
		return types.UserAppealStats{}, fmt.Errorf("failed to load appeals for stats: %w (userID=%d, guildID=%d)",
			err, userID, guildID)
	}
	return ComputeStats(userID, guildID, appeals), nil
}

// begin registers an operation on key and returns the epoch it started in.
func (t *Tracker) begin(key string, write bool) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.keys[key]
	if !ok {
		s = &keyState{}
		t.keys[key] = s
	}
	s.refs++
	if write {
		s.epoch++
	}
	return s.epoch
}

// finish caches stats unless a later write on key has begun, then releases key.
func (t *Tracker) finish(ctx context.Context, key string, epoch uint64, stats *types.UserAppealStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.keys[key]
	if stats != nil && t.cache != nil && s.epoch == epoch {
		t.cache.Set(ctx, *stats)
	}

	s.refs--
	if s.refs == 0 {
		delete(t.keys, key)
	}
}

// ComputeStats aggregates a set of appeals. ApprovalRate is zero when there
// are no appeals and approved/total otherwise.
func ComputeStats(userID, guildID uint64, appeals []*types.Appeal) types.UserAppealStats {
	stats := types.UserAppealStats{UserID: userID, GuildID: guildID}

	for _, a := range appeals {
		stats.Total++
		switch a.Status {
		case enum.AppealStatusApproved:
			stats.Approved++
		case enum.AppealStatusRejected:
			stats.Rejected++
		case enum.AppealStatusExpired:
			stats.Expired++
		case enum.AppealStatusCancelled:
			stats.Cancelled++
		case enum.AppealStatusPendingAnalysis, enum.AppealStatusPendingReview, enum.AppealStatusUnderReview:
			stats.Pending++
		}
	}

	if stats.Total > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.Total)
	}

	return stats
}
