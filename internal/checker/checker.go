// Package checker periodically probes every known server in the background.
package checker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"serverlink/internal/storage"
)

// Checker is responsible for periodically scheduling server probes.
type Checker struct {
	store         storage.Storer
	pool          *WorkerPool
	log           *slog.Logger
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// New creates a new Checker.
func New(store storage.Storer, pingers PingerFactory, log *slog.Logger, interval time.Duration, maxConcurrency int) *Checker {
	return &Checker{
		store:         store,
		pool:          NewWorkerPool(store, pingers, log, maxConcurrency),
		log:           log,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic probing process.
func (c *Checker) Start() {
	c.log.Info("starting server monitor", "interval", c.checkInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.checkInterval)
		defer ticker.Stop()

		// Perform an initial round on startup
		c.scheduleChecks()

		for {
			select {
			case <-ticker.C:
				c.scheduleChecks()
			case <-c.stopChan:
				c.log.Info("stopping server monitor")
				c.pool.Stop()
				return
			}
		}
	}()
}

// Stop gracefully shuts down the checker and its worker pool.
func (c *Checker) Stop() {
	close(c.stopChan)
	c.wg.Wait()
	c.log.Info("server monitor stopped")
}

// scheduleChecks fetches all servers and dispatches them to the worker pool.
func (c *Checker) scheduleChecks() {
	servers, err := c.store.GetAllServers(context.Background())
	if err != nil {
		c.log.Error("error fetching servers for probing", "error", err)
		return
	}

	if len(servers) == 0 {
		c.log.Debug("no servers to probe")
		return
	}

	for _, s := range servers {
		c.pool.Submit(s)
	}
	c.log.Debug("submitted servers for probing", "count", len(servers))
}
