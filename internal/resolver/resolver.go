// Package resolver turns a user-entered server address into a reachable
// origin. Each connection attempt probes the secure origin first and falls
// back to the insecure one exactly once.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"serverlink/internal/models"
	"serverlink/internal/urlutil"
)

// Client is the REST surface probed by the resolver.
type Client interface {
	SetBaseOrigin(origin string)
	ServerVersion() string
	Ping(ctx context.Context) error
}

// ExistenceChecker discovers where a URL redirects to.
type ExistenceChecker interface {
	FinalURL(ctx context.Context, rawURL string) (string, error)
}

// Hooks are invoked once a server answers its ping.
type Hooks interface {
	LoadConfigAndLicense(ctx context.Context)
	SetServerVersion(version string)
}

// ErrorIDInvalidURL tags outcomes whose candidate had no usable host.
const ErrorIDInvalidURL = "resolver.invalid_url"

// Status is a snapshot of the resolver's connection state.
type Status struct {
	State         models.ConnectionState  `json:"state"`
	Error         *models.ErrorDescriptor `json:"error"`
	Origin        string                  `json:"origin,omitempty"`
	ServerVersion string                  `json:"server_version,omitempty"`
	AttemptID     string                  `json:"attempt_id,omitempty"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver registers fn to receive every settled outcome, cancelled
// ones included. Observers run on the attempt's goroutine.
func WithObserver(fn func(models.Outcome)) Option {
	return func(r *Resolver) { r.observers = append(r.observers, fn) }
}

// WithTracer sets the tracer used for attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = tracer }
}

// Resolver owns the connection state of the login flow. At most one
// attempt is active; starting a new one cancels the previous.
type Resolver struct {
	client    Client
	checker   ExistenceChecker
	hooks     Hooks
	log       *slog.Logger
	tracer    trace.Tracer
	observers []func(models.Outcome)

	mu            sync.Mutex
	state         models.ConnectionState
	lastErr       *models.ErrorDescriptor
	origin        string
	serverVersion string
	current       *Attempt
}

// New creates an idle Resolver.
func New(client Client, checker ExistenceChecker, hooks Hooks, log *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:  client,
		checker: checker,
		hooks:   hooks,
		log:     log,
		tracer:  noop.NewTracerProvider().Tracer("resolver"),
		state:   models.StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status returns the current connection state.
func (r *Resolver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		State:         r.state,
		Error:         r.lastErr,
		Origin:        r.origin,
		ServerVersion: r.serverVersion,
	}
	if r.current != nil {
		st.AttemptID = r.current.ID
	}
	return st
}

// Connect starts resolving candidate in the background and returns a handle
// to the attempt. Any attempt still in flight is cancelled first.
func (r *Resolver) Connect(ctx context.Context, candidate string) *Attempt {
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &Attempt{
		ID:        uuid.NewString(),
		Candidate: candidate,
		r:         r,
		ctx:       attemptCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	prev := r.current
	if prev != nil {
		prev.cancelLocked()
	}
	r.current = a
	r.state = models.StateConnecting
	r.lastErr = nil
	r.origin = ""
	r.serverVersion = ""
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		r.log.Info("superseded connection attempt", "attempt_id", prev.ID)
	}

	go a.run()
	return a
}

// Cancel cancels the attempt in flight, if any.
func (r *Resolver) Cancel() bool {
	r.mu.Lock()
	a := r.current
	r.mu.Unlock()
	if a == nil {
		return false
	}
	return a.Cancel()
}

type phase int

const (
	phaseSecure phase = iota
	phaseInsecure
	phaseSucceeded
	phaseFailed
)

// Attempt is a handle to one connection attempt.
type Attempt struct {
	ID        string
	Candidate string

	r         *Resolver
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	// guarded by r.mu
	cancelled bool
	settled   bool
	retried   bool
	probes    int
	outcome   models.Outcome
}

// Cancel stops the attempt and resets the resolver to idle right away.
// Results that arrive afterwards are discarded. It reports whether the
// attempt was still running.
func (a *Attempt) Cancel() bool {
	a.r.mu.Lock()
	ok := a.cancelLocked()
	a.r.mu.Unlock()
	if ok {
		a.cancel()
		a.r.log.Info("cancelled connection attempt", "attempt_id", a.ID)
	}
	return ok
}

func (a *Attempt) cancelLocked() bool {
	if a.settled || a.cancelled {
		return false
	}
	a.cancelled = true
	if a.r.current == a {
		a.r.current = nil
		a.r.state = models.StateIdle
	}
	a.outcome = a.outcomeLocked(models.StateIdle, "", nil)
	a.outcome.Cancelled = true
	return true
}

// Done is closed once the attempt's goroutine has exited.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Wait blocks until the attempt settles or ctx ends.
func (a *Attempt) Wait(ctx context.Context) (models.Outcome, error) {
	select {
	case <-a.done:
		return a.Outcome(), nil
	case <-ctx.Done():
		return models.Outcome{}, ctx.Err()
	}
}

// Outcome returns the attempt's result; it is only final after Done.
func (a *Attempt) Outcome() models.Outcome {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.outcome
}

func (a *Attempt) isCancelled() bool {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.cancelled
}

func (a *Attempt) outcomeLocked(state models.ConnectionState, origin string, desc *models.ErrorDescriptor) models.Outcome {
	return models.Outcome{
		AttemptID:  a.ID,
		Candidate:  a.Candidate,
		Origin:     origin,
		State:      state,
		Error:      desc,
		Retried:    a.retried,
		Probes:     a.probes,
		StartedAt:  a.startedAt,
		FinishedAt: time.Now().UTC(),
	}
}

func (a *Attempt) run() {
	r := a.r
	ctx, span := r.tracer.Start(a.ctx, "resolver.Connect",
		trace.WithAttributes(
			attribute.String("attempt_id", a.ID),
			attribute.String("candidate", a.Candidate),
		))
	defer span.End()
	defer a.finish()

	var (
		origin string
		err    error
	)
	ph := phaseSecure
	for ph == phaseSecure || ph == phaseInsecure {
		target := a.Candidate
		insecure := ph == phaseInsecure
		if insecure {
			target = urlutil.Downgrade(origin)
		}

		origin, err = a.probe(ctx, span, target, insecure)
		if a.isCancelled() {
			span.AddEvent("cancelled")
			return
		}

		var invalid *invalidURLError
		switch {
		case err == nil:
			ph = phaseSucceeded
		case errors.As(err, &invalid):
			ph = phaseFailed
		case ph == phaseSecure:
			r.log.Info("secure ping failed, retrying insecure", "attempt_id", a.ID, "origin", origin, "error", err)
			r.mu.Lock()
			a.retried = true
			r.mu.Unlock()
			ph = phaseInsecure
		default:
			ph = phaseFailed
		}
	}

	if ph == phaseFailed {
		desc := describe(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, desc.Message)
		a.settle(models.StateFailed, origin, desc, "")
		return
	}

	version := r.client.ServerVersion()
	r.hooks.LoadConfigAndLicense(ctx)
	if a.isCancelled() {
		return
	}
	r.hooks.SetServerVersion(version)
	a.settle(models.StateConnected, origin, nil, version)
}

// probe runs one phase: existence check, normalization, ping.
func (a *Attempt) probe(ctx context.Context, span trace.Span, target string, insecure bool) (string, error) {
	r := a.r

	candidate, err := urlutil.NormalizeOrigin(target, insecure)
	if err != nil {
		return "", &invalidURLError{candidate: target, err: err}
	}

	span.AddEvent("existence_check", trace.WithAttributes(attribute.String("url", candidate)))
	resolved, err := r.checker.FinalURL(ctx, candidate)
	if err != nil {
		r.log.Debug("existence check failed, continuing", "attempt_id", a.ID, "url", candidate, "error", err)
		resolved = candidate
	}
	if a.isCancelled() {
		return "", ctx.Err()
	}

	origin, err := urlutil.NormalizeOrigin(resolved, insecure)
	if err != nil {
		return "", &invalidURLError{candidate: resolved, err: err}
	}

	r.mu.Lock()
	if a.cancelled {
		r.mu.Unlock()
		return origin, ctx.Err()
	}
	r.client.SetBaseOrigin(origin)
	r.origin = origin
	a.probes++
	r.mu.Unlock()

	span.AddEvent("ping", trace.WithAttributes(
		attribute.String("origin", origin),
		attribute.Bool("secure", urlutil.IsSecure(origin)),
	))
	return origin, r.client.Ping(ctx)
}

func (a *Attempt) settle(state models.ConnectionState, origin string, desc *models.ErrorDescriptor, version string) {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.cancelled || a.settled {
		return
	}
	a.settled = true
	a.outcome = a.outcomeLocked(state, origin, desc)
	a.outcome.ServerVersion = version
	if r.current == a {
		r.current = nil
		r.state = state
		r.lastErr = desc
		r.origin = origin
		r.serverVersion = version
	}
	r.log.Info("connection attempt settled",
		"attempt_id", a.ID, "state", state, "origin", origin, "retried", a.retried, "probes", a.probes)
}

func (a *Attempt) finish() {
	out := a.Outcome()
	for _, fn := range a.r.observers {
		fn(out)
	}
	a.cancel()
	close(a.done)
}

type invalidURLError struct {
	candidate string
	err       error
}

func (e *invalidURLError) Error() string {
	return "invalid server url " + e.candidate + ": " + e.err.Error()
}

func (e *invalidURLError) Unwrap() error { return e.err }

func describe(err error) *models.ErrorDescriptor {
	var invalid *invalidURLError
	if errors.As(err, &invalid) {
		return &models.ErrorDescriptor{ServerErrorID: ErrorIDInvalidURL, Message: invalid.Error()}
	}
	return models.Describe(err)
}
