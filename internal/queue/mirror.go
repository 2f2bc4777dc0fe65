// Package queue publishes the review lanes to Redis so the bot layer can show
// queue positions without talking to the worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/robalyx/arbiter/internal/appeal/workflow"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	// PositionExpiry controls how long a published position stays readable
	// when the worker stops publishing.
	PositionExpiry = 1 * time.Hour

	// PriorityLaneKey is the sorted set of appeal ids in the priority lane.
	PriorityLaneKey = "appeal_queue:priority"
	// RegularLaneKey is the sorted set of appeal ids in the regular lane.
	RegularLaneKey = "appeal_queue:regular"
	// VersionKey holds the version of the last published snapshot.
	VersionKey = "appeal_queue:version"

	// PositionPrefix namespaces Redis keys holding a queued appeal's position.
	// Keys are formatted as "appeal_queue_position:{appealID}".
	PositionPrefix = "appeal_queue_position:"

	syncTimeout = 10 * time.Second
)

var (
	// ErrMirrorClosed is returned when syncing after Close.
	ErrMirrorClosed = errors.New("queue mirror closed")
	// ErrUnknownLane is returned for lanes that are not mirrored.
	ErrUnknownLane = errors.New("unknown lane")
)

// Position is the published queue position of an appeal.
type Position struct {
	AppealID  uuid.UUID `json:"appealId"`
	Lane      string    `json:"lane"`
	Position  int       `json:"position"` // 1-based within the lane
	LaneSize  int       `json:"laneSize"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Mirror copies workflow snapshots into Redis. Publish hands snapshots to a
// single writer goroutine and never blocks; only the newest pending snapshot
// is written.
type Mirror struct {
	client rueidis.Client
	logger *zap.Logger

	mu      sync.Mutex
	pending *workflow.Snapshot
	signal  chan struct{}

	// Only touched by the writer.
	lastVersion uint64
	published   map[uuid.UUID]struct{}

	wg        conc.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewMirror creates a queue mirror on the given Redis client.
func NewMirror(client rueidis.Client, logger *zap.Logger) *Mirror {
	return &Mirror{
		client:    client,
		logger:    logger.Named("queue_mirror"),
		signal:    make(chan struct{}, 1),
		published: make(map[uuid.UUID]struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (m *Mirror) Start(ctx context.Context) {
	m.wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-m.signal:
			}

			m.mu.Lock()
			snap := m.pending
			m.pending = nil
			m.mu.Unlock()

			if snap == nil {
				continue
			}

			syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
			if err := m.Sync(syncCtx, *snap); err != nil {
				m.logger.Warn("Failed to mirror review queue",
					zap.Uint64("version", snap.Version),
					zap.Error(err))
			}
			cancel()
		}
	})
}

// Publish implements workflow.Mirror.
func (m *Mirror) Publish(snap workflow.Snapshot) {
	m.mu.Lock()
	if m.pending == nil || snap.Version >= m.pending.Version {
		m.pending = &snap
	}
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Close stops the writer and waits for an in-progress write.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// Sync writes the snapshot to Redis. Snapshots older than the last written
// one are dropped and rewriting the current version refreshes the position
// expiry. Sync must not be called concurrently.
func (m *Mirror) Sync(ctx context.Context, snap workflow.Snapshot) error {
	select {
	case <-m.done:
		return ErrMirrorClosed
	default:
	}

	if snap.Version < m.lastVersion {
		m.logger.Debug("Dropped stale queue snapshot",
			zap.Uint64("version", snap.Version),
			zap.Uint64("lastVersion", m.lastVersion))
		return nil
	}

	updatedAt := snap.TakenAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	cmds := make(rueidis.Commands, 0, 4+snap.Size()+len(m.published))
	cmds = append(cmds,
		m.client.B().Del().Key(PriorityLaneKey).Build(),
		m.client.B().Del().Key(RegularLaneKey).Build())

	current := make(map[uuid.UUID]struct{}, snap.Size())
	lanes := []struct {
		key     string
		lane    workflow.Lane
		entries []workflow.Entry
	}{
		{PriorityLaneKey, workflow.LanePriority, snap.Priority},
		{RegularLaneKey, workflow.LaneRegular, snap.Regular},
	}

	for _, l := range lanes {
		if len(l.entries) == 0 {
			continue
		}

		zadd := m.client.B().Zadd().Key(l.key).ScoreMember()
		for i, entry := range l.entries {
			zadd = zadd.ScoreMember(float64(i), entry.AppealID.String())
		}
		cmds = append(cmds, zadd.Build())

		for i, entry := range l.entries {
			data, err := sonic.Marshal(Position{
				AppealID:  entry.AppealID,
				Lane:      l.lane.String(),
				Position:  i + 1,
				LaneSize:  len(l.entries),
				Version:   snap.Version,
				UpdatedAt: updatedAt,
			})
			if err != nil {
				return fmt.Errorf("failed to encode queue position: %w (appealID=%s)", err, entry.AppealID)
			}

			cmds = append(cmds, m.client.B().Set().
				Key(positionKey(entry.AppealID)).
				Value(rueidis.BinaryString(data)).
				Ex(PositionExpiry).
				Build())
			current[entry.AppealID] = struct{}{}
		}
	}

	// Appeals that left the lanes lose their position
	for id := range m.published {
		if _, ok := current[id]; !ok {
			cmds = append(cmds, m.client.B().Del().Key(positionKey(id)).Build())
		}
	}

	cmds = append(cmds, m.client.B().Set().
		Key(VersionKey).
		Value(strconv.FormatUint(snap.Version, 10)).
		Build())

	for _, resp := range m.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to write queue snapshot: %w (version=%d)", err, snap.Version)
		}
	}

	m.lastVersion = snap.Version
	m.published = current

	m.logger.Debug("Mirrored review queue",
		zap.Uint64("version", snap.Version),
		zap.Int("priority", len(snap.Priority)),
		zap.Int("regular", len(snap.Regular)))

	return nil
}

// Reader looks up published queue state.
type Reader struct {
	client rueidis.Client
}

// NewReader creates a reader on the given Redis client.
func NewReader(client rueidis.Client) *Reader {
	return &Reader{client: client}
}

// Position returns the published position of the appeal. The second result
// is false when the appeal is not queued.
func (r *Reader) Position(ctx context.Context, appealID uuid.UUID) (Position, bool, error) {
	var pos Position

	data, err := r.client.Do(ctx, r.client.B().Get().Key(positionKey(appealID)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return pos, false, nil
		}
		return pos, false, fmt.Errorf("failed to get queue position: %w (appealID=%s)", err, appealID)
	}

	if err := sonic.Unmarshal(data, &pos); err != nil {
		return pos, false, fmt.Errorf("failed to decode queue position: %w (appealID=%s)", err, appealID)
	}

	return pos, true, nil
}

// LaneIDs returns the ids queued in the lane in dequeue order.
func (r *Reader) LaneIDs(ctx context.Context, lane workflow.Lane) ([]string, error) {
	key, err := laneKey(lane)
	if err != nil {
		return nil, err
	}

	ids, err := r.client.Do(ctx, r.client.B().Zrange().Key(key).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to get lane members: %w (lane=%s)", err, lane)
	}
	return ids, nil
}

// Version returns the version of the last published snapshot, or zero.
func (r *Reader) Version(ctx context.Context) (uint64, error) {
	v, err := r.client.Do(ctx, r.client.B().Get().Key(VersionKey).Build()).AsUint64()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get queue version: %w", err)
	}
	return v, nil
}

func laneKey(lane workflow.Lane) (string, error) {
	switch lane {
	case workflow.LanePriority:
		return PriorityLaneKey, nil
	case workflow.LaneRegular:
		return RegularLaneKey, nil
	case workflow.LaneNone:
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownLane, lane)
}

func positionKey(id uuid.UUID) string {
	return PositionPrefix + id.String()
}
