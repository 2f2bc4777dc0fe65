package workflow

import (
	"context"
	"slices"
	"time"

	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"go.uber.org/zap"
)

// Start begins periodic expiry sweeps. The interval is re-read after every
// sweep so config reloads take effect without a restart.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopped || m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		timer := time.NewTimer(m.reaperInterval())
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				m.ReapExpired()
				timer.Reset(m.reaperInterval())
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			}
		}
	}()

	m.logger.Info("Started appeal reaper", zap.Duration("interval", m.reaperInterval()))
}

// Stop ends the expiry sweeps.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stopped {
		close(m.stopChan)
		m.stopped = true
	}
}

// ReapExpired expires every queued or claimed appeal past its deadline and
// returns them oldest first. An appeal whose claim or decision won the race
// is no longer eligible, so each appeal expires at most once.
func (m *Manager) ReapExpired() []*types.Appeal {
	now := m.now()

	m.mu.Lock()

	var expired []*types.Appeal
	for _, a := range m.appeals {
		if a.Status != enum.AppealStatusPendingReview && a.Status != enum.AppealStatusUnderReview {
			continue
		}

		timeout := m.settings.Workflow(a.GuildID).ReviewTimeout()
		if timeout <= 0 || !now.After(a.DeadlineFor(timeout)) {
			continue
		}

		m.transitionLocked(a, enum.AppealStatusExpired, now)
		expired = append(expired, a.Clone())
	}

	if len(expired) == 0 {
		m.mu.Unlock()
		return nil
	}

	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.publish(snap)

	slices.SortFunc(expired, func(a, b *types.Appeal) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	m.logger.Info("Expired appeals past their review deadline", zap.Int("count", len(expired)))

	if m.onExpire != nil {
		for _, a := range expired {
			m.onExpire(a)
		}
	}

	return expired
}

// reaperInterval returns the configured sweep interval with a floor.
func (m *Manager) reaperInterval() time.Duration {
	interval := m.settings.Workflow(0).ReaperInterval()
	if interval < time.Second {
		return time.Second
	}
	return interval
}
