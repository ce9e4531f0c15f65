package aiguard

import (
	"context"
	"time"
)

// RunSweeper periodically deactivates expired restrictions until ctx is done.
// Access checks expire restrictions lazily, so the sweeper only keeps the
// is_active column tidy for admin listings.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return invalidf("sweep interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.restrictions.SweepExpired(ctx); err != nil {
				m.env.config.Logger.Error("restriction sweep failed", errField(err))
			}
		}
	}
}
