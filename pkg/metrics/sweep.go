package metrics

import "time"

// StartSweeper launches the periodic expiry sweep. Safe to call once; Stop
// ends it.
func (c *Collector) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	c.sweepOnce.Do(func() {
		go c.sweepLoop(interval)
		c.logger.Info().
			Dur("interval", interval).
			Dur("max_age", c.maxAge).
			Msg("Metrics sweeper started")
	})
}

// Stop ends the sweeper goroutine
func (c *Collector) Stop() {
	select {
	case <-c.sweepStop:
	default:
		close(c.sweepStop)
	}
}

func (c *Collector) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := c.Sweep()
			if removed > 0 {
				c.logger.Info().Int("removed", removed).Msg("Swept expired run metrics")
			}
		case <-c.sweepStop:
			return
		}
	}
}
