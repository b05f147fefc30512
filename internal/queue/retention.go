package queue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultCleanupInterval = 6 * time.Hour

// RetentionCleaner periodically purges terminal job records from every lane.
type RetentionCleaner struct {
	manager  *Manager
	interval time.Duration
}

// NewRetentionCleaner constructs a cleaner over the lane manager.
func NewRetentionCleaner(manager *Manager) *RetentionCleaner {
	if manager == nil {
		return nil
	}
	return &RetentionCleaner{
		manager:  manager,
		interval: defaultCleanupInterval,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("queue retention cleaner started (interval=%s)", c.interval)
}

func (c *RetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		removed := c.manager.Cleanup(0)
		if removed > 0 {
			log.Infof("queue retention cleaner: removed %d terminal jobs", removed)
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}
