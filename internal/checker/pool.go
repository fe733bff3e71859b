package checker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"serverlink/internal/models"
	"serverlink/internal/storage"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
)

// Pinger checks that a single server answers its ping endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFactory returns a Pinger bound to origin.
type PingerFactory func(origin string) Pinger

// WorkerPool manages a pool of goroutines that probe servers concurrently.
type WorkerPool struct {
	store       storage.Storer
	pingers     PingerFactory
	log         *slog.Logger
	jobs        chan models.Server
	hostLimiter *HostLimiter
	backoff     time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store storage.Storer, pingers PingerFactory, log *slog.Logger, maxConcurrency int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		store:       store,
		pingers:     pingers,
		log:         log,
		jobs:        make(chan models.Server, maxConcurrency*2),
		hostLimiter: NewHostLimiter(),
		backoff:     initialBackoff,
		ctx:         ctx,
		cancel:      cancel,
	}

	pool.startWorkers(maxConcurrency)
	return pool
}

// startWorkers launches the worker goroutines.
func (p *WorkerPool) startWorkers(count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for server := range p.jobs {
				p.performCheck(p.ctx, server)
			}
		}()
	}
}

// Submit adds a server to the job queue for probing.
func (p *WorkerPool) Submit(server models.Server) {
	select {
	case p.jobs <- server:
	default:
		p.log.Warn("job queue full, skipping probe", "server_id", server.ID)
	}
}

// Stop aborts pending retries and waits for all workers to exit.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
	})
}

// performCheck probes a single server and stores the result.
func (p *WorkerPool) performCheck(ctx context.Context, server models.Server) {
	if ctx.Err() != nil {
		return
	}
	release, holder, ok := p.hostLimiter.Acquire(server)
	if !ok {
		p.log.Debug("skipping probe, host already being probed",
			"origin", server.Origin, "host", server.Host, "holder", holder,
			"skipped", p.hostLimiter.Skipped(server.ID))
		return
	}
	defer release()

	pinger := p.pingers(server.Origin)

	var (
		startTime time.Time
		latency   time.Duration
		lastErr   error
	)
	operation := func() error {
		startTime = time.Now()
		lastErr = pinger.Ping(ctx)
		latency = time.Since(startTime)
		if shouldRetry(lastErr) {
			return lastErr
		}
		return nil
	}
	_ = backoff.Retry(operation, p.newBackOff(ctx))

	result := models.ProbeResult{
		ServerID:  server.ID,
		Origin:    server.Origin,
		Source:    models.SourceMonitor,
		ProbedAt:  startTime.UTC(),
		Reachable: lastErr == nil,
		LatencyMS: latency.Milliseconds(),
	}
	if code := statusCode(lastErr); code != 0 {
		result.StatusCode = &code
	}
	if lastErr != nil {
		m := lastErr.Error()
		result.Error = &m
	}
	if err := p.store.CreateProbeResult(context.Background(), &result); err != nil {
		p.log.Error("error saving probe result", "server_id", server.ID, "error", err)
	}
}

func (p *WorkerPool) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
}

// shouldRetry retries transport errors and 5xx answers.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var desc *models.ErrorDescriptor
	if errors.As(err, &desc) {
		return desc.StatusCode >= 500 && desc.StatusCode <= 599
	}
	return true
}

// statusCode is the HTTP status of the last answer, or 0 when none arrived.
func statusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var desc *models.ErrorDescriptor
	if errors.As(err, &desc) {
		return desc.StatusCode
	}
	return 0
}
