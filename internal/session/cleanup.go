package session

import (
	"context"
	"time"

	"github.com/dgellow/authguard/internal/log"
)

const finalSweepTimeout = 10 * time.Second

// Cleaner periodically removes expired sessions from a Sweeper
type Cleaner struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleaner creates a cleaner for sweeper
func NewCleaner(sweeper Sweeper, interval time.Duration) *Cleaner {
	return &Cleaner{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the cleanup loop in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting session cleanup", map[string]any{
		"interval": c.interval.String(),
	})
	go c.run(ctx)
}

// Stop ends the loop after one final sweep and waits for it to finish
func (c *Cleaner) Stop() {
	close(c.stopChan)
	<-c.doneChan
	log.Logf("Session cleanup stopped")
}

func (c *Cleaner) run(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			c.sweep(ctx)
		case <-c.stopChan:
			c.finalSweep(ctx)
			return
		case <-ctx.Done():
			c.finalSweep(ctx)
			return
		}
	}
}

func (c *Cleaner) finalSweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSweepTimeout)
	defer cancel()
	c.sweep(ctx)
}

func (c *Cleaner) sweep(ctx context.Context) {
	count, err := c.sweeper.DeleteExpired(ctx, c.now())
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to remove expired sessions", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if count > 0 {
		log.LogInfoWithFields("cleanup", "Removed expired sessions", map[string]any{
			"count": count,
		})
	}
}
