package history

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverlink/internal/models"
	"serverlink/internal/storage"
	"serverlink/internal/storage/memory"
)

func newRecorder() (*Recorder, *memory.Store) {
	store := memory.New()
	return NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestRecordConnected(t *testing.T) {
	rec, store := newRecorder()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	rec.Observe(models.Outcome{
		AttemptID:     "a1",
		Origin:        "https://chat.example.com",
		State:         models.StateConnected,
		Probes:        1,
		ServerVersion: "9.11.0",
		StartedAt:     start,
		FinishedAt:    start.Add(40 * time.Millisecond),
	})

	servers, err := store.GetAllServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "chat.example.com", servers[0].Host)
	assert.Equal(t, "9.11.0", servers[0].ServerVersion)
	require.NotNil(t, servers[0].LastConnectedAt)

	results, err := store.ListProbeResultsByServerID(context.Background(), storage.ListProbeResultsParams{ServerID: servers[0].ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Reachable)
	assert.Equal(t, models.SourceConnect, results[0].Source)
	assert.Equal(t, int64(40), results[0].LatencyMS)
}

func TestRecordFailedReusesServer(t *testing.T) {
	rec, store := newRecorder()
	start := time.Now().UTC()
	out := models.Outcome{
		Origin:     "http://chat.example.com",
		State:      models.StateFailed,
		Probes:     2,
		Error:      &models.ErrorDescriptor{Message: "bad gateway", StatusCode: 502},
		StartedAt:  start,
		FinishedAt: start,
	}
	rec.Observe(out)
	rec.Observe(out)

	servers, err := store.GetAllServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Nil(t, servers[0].LastConnectedAt)

	results, err := store.ListProbeResultsByServerID(context.Background(), storage.ListProbeResultsParams{ServerID: servers[0].ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Reachable)
	require.NotNil(t, results[0].StatusCode)
	assert.Equal(t, 502, *results[0].StatusCode)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, "bad gateway", *results[0].Error)
}

func TestObserveSkipsCancelledAndUnprobed(t *testing.T) {
	rec, store := newRecorder()
	rec.Observe(models.Outcome{Origin: "https://a.example.com", Probes: 1, Cancelled: true})
	rec.Observe(models.Outcome{Candidate: "   ", State: models.StateFailed})

	servers, err := store.GetAllServers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, servers)
}
