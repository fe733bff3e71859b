package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverlink/internal/models"
	"serverlink/internal/storage"
)

func setupStore(t *testing.T) (context.Context, *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	store, err := New(ctx, filepath.Join(t.TempDir(), "serverlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ctx, store
}

func newServer(origin, host string, createdAt time.Time) *models.Server {
	return &models.Server{
		ID:        storage.NewID("s_"),
		Origin:    origin,
		Host:      host,
		CreatedAt: createdAt,
	}
}

func TestCreateServerAndDuplicate(t *testing.T) {
	ctx, store := setupStore(t)
	now := time.Now().UTC()

	created, err := store.CreateServer(ctx, newServer("https://chat.example.com", "chat.example.com", now))
	require.NoError(t, err)

	dup, err := store.CreateServer(ctx, newServer("https://chat.example.com", "chat.example.com", now.Add(time.Second)))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	require.NotNil(t, dup)
	assert.Equal(t, created.ID, dup.ID)

	got, err := store.GetServerByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", got.Origin)
	assert.Nil(t, got.LastConnectedAt)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestGetServerByIDNotFound(t *testing.T) {
	ctx, store := setupStore(t)
	_, err := store.GetServerByID(ctx, "s_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkConnected(t *testing.T) {
	ctx, store := setupStore(t)
	srv, err := store.CreateServer(ctx, newServer("https://chat.example.com", "chat.example.com", time.Now()))
	require.NoError(t, err)

	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkConnected(ctx, srv.ID, "9.11.0", at))

	got, err := store.GetServerByID(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "9.11.0", got.ServerVersion)
	require.NotNil(t, got.LastConnectedAt)
	assert.True(t, got.LastConnectedAt.Equal(at))

	assert.ErrorIs(t, store.MarkConnected(ctx, "s_missing", "1", at), storage.ErrNotFound)
}

func TestListServersPagination(t *testing.T) {
	ctx, store := setupStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hosts := []string{"a.example.com", "b.example.com", "c.example.com", "a.example.com"}
	for i, host := range hosts {
		origin := "https://" + host
		if i == 3 {
			origin = "http://" + host + ":8065"
		}
		_, err := store.CreateServer(ctx, newServer(origin, host, base.Add(time.Duration(i)*time.Millisecond)))
		require.NoError(t, err)
	}

	page1, err := store.ListServers(ctx, storage.ListServersParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "https://a.example.com", page1[0].Origin)
	assert.Equal(t, "https://b.example.com", page1[1].Origin)

	last := page1[len(page1)-1]
	page2, err := store.ListServers(ctx, storage.ListServersParams{AfterTime: last.CreatedAt, AfterID: last.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "https://c.example.com", page2[0].Origin)

	filtered, err := store.ListServers(ctx, storage.ListServersParams{Host: "a.example.com", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	all, err := store.GetAllServers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestProbeResults(t *testing.T) {
	ctx, store := setupStore(t)
	srv, err := store.CreateServer(ctx, newServer("https://chat.example.com", "chat.example.com", time.Now()))
	require.NoError(t, err)

	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	status := 200
	msg := "connection refused"
	results := []*models.ProbeResult{
		{ServerID: srv.ID, Origin: srv.Origin, Source: models.SourceConnect, ProbedAt: base, Reachable: true, StatusCode: &status, LatencyMS: 12},
		{ServerID: srv.ID, Origin: srv.Origin, Source: models.SourceMonitor, ProbedAt: base.Add(time.Minute), Error: &msg, LatencyMS: 3},
		{ServerID: srv.ID, Origin: srv.Origin, Source: models.SourceMonitor, ProbedAt: base.Add(2 * time.Minute), Reachable: true, StatusCode: &status, LatencyMS: 9},
	}
	for _, r := range results {
		require.NoError(t, store.CreateProbeResult(ctx, r))
		assert.NotEmpty(t, r.ID)
	}

	got, err := store.ListProbeResultsByServerID(ctx, storage.ListProbeResultsParams{ServerID: srv.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].ProbedAt.Equal(base.Add(2*time.Minute)), "newest first")
	assert.True(t, got[0].Reachable)
	require.NotNil(t, got[0].StatusCode)
	assert.Equal(t, 200, *got[0].StatusCode)
	assert.False(t, got[1].Reachable)
	assert.Nil(t, got[1].StatusCode)
	require.NotNil(t, got[1].Error)
	assert.Equal(t, msg, *got[1].Error)
	assert.Equal(t, models.SourceConnect, got[2].Source)

	since := base.Add(30 * time.Second)
	recent, err := store.ListProbeResultsByServerID(ctx, storage.ListProbeResultsParams{ServerID: srv.ID, Since: &since, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := store.ListProbeResultsByServerID(ctx, storage.ListProbeResultsParams{ServerID: srv.ID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
