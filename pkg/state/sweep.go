package state

import (
	"time"

	"github.com/pagelift/engine/internal/observability"
)

// StartSweeper launches the periodic expiry sweep. Safe to call once; Stop
// ends it.
func (t *Tracker) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	t.sweepOnce.Do(func() {
		go t.sweepLoop(interval)
		t.logger.Info().
			Dur("interval", interval).
			Dur("max_age", t.maxAge).
			Msg("State sweeper started")
	})
}

// Stop ends the sweeper goroutine
func (t *Tracker) Stop() {
	select {
	case <-t.sweepStop:
	default:
		close(t.sweepStop)
	}
}

func (t *Tracker) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := t.Sweep()
			if removed > 0 {
				t.logger.Info().Int("removed", removed).Msg("Swept expired conversation state")
			}
		case <-t.sweepStop:
			return
		}
	}
}

// Sweep removes conversations whose last activity is older than the
// configured max age and reports how many were removed.
func (t *Tracker) Sweep() int {
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, conv := range t.conversations {
		if now.Sub(conv.LastActivity) > t.maxAge {
			delete(t.conversations, id)
			removed++
		}
	}
	observability.SetTrackedConversations(len(t.conversations))
	return removed
}
