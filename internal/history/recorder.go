// Package history persists the outcome of connection attempts.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"serverlink/internal/models"
	"serverlink/internal/storage"
	"serverlink/internal/urlutil"
)

// Recorder stores settled connection outcomes as servers and probe results.
type Recorder struct {
	store   storage.Storer
	log     *slog.Logger
	timeout time.Duration
}

// NewRecorder creates a Recorder.
func NewRecorder(store storage.Storer, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log, timeout: 5 * time.Second}
}

// Observe is a resolver observer. Cancelled attempts and attempts that never
// reached a probe are skipped.
func (r *Recorder) Observe(out models.Outcome) {
	if out.Cancelled || out.Origin == "" || out.Probes == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Record(ctx, out); err != nil {
		r.log.Error("failed to record connection outcome", "attempt_id", out.AttemptID, "error", err)
	}
}

// Record upserts the server for the outcome's origin and appends a connect
// probe result.
func (r *Recorder) Record(ctx context.Context, out models.Outcome) error {
	srv, err := r.store.CreateServer(ctx, &models.Server{
		ID:        storage.NewID("s_"),
		Origin:    out.Origin,
		Host:      urlutil.Hostname(out.Origin),
		CreatedAt: out.StartedAt,
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return err
	}

	if out.Reachable() {
		if err := r.store.MarkConnected(ctx, srv.ID, out.ServerVersion, out.FinishedAt); err != nil {
			return err
		}
	}

	result := &models.ProbeResult{
		ServerID:  srv.ID,
		Origin:    out.Origin,
		Source:    models.SourceConnect,
		ProbedAt:  out.FinishedAt,
		Reachable: out.Reachable(),
		LatencyMS: out.FinishedAt.Sub(out.StartedAt).Milliseconds(),
	}
	if out.Error != nil {
		msg := out.Error.Error()
		result.Error = &msg
		if out.Error.StatusCode != 0 {
			code := out.Error.StatusCode
			result.StatusCode = &code
		}
	}
	return r.store.CreateProbeResult(ctx, result)
}
