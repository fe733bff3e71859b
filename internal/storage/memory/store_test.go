package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverlink/internal/models"
	"serverlink/internal/storage"
)

var _ storage.Storer = (*Store)(nil)

func TestMemoryServers(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, origin := range []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"} {
		_, err := store.CreateServer(ctx, &models.Server{
			ID:        storage.NewID("s_"),
			Origin:    origin,
			Host:      origin[len("https://"):],
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	_, err := store.CreateServer(ctx, &models.Server{ID: "s_dup", Origin: "https://a.example.com"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	page, err := store.ListServers(ctx, storage.ListServersParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)

	next, err := store.ListServers(ctx, storage.ListServersParams{AfterTime: page[1].CreatedAt, AfterID: page[1].ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "https://c.example.com", next[0].Origin)

	byHost, err := store.ListServers(ctx, storage.ListServersParams{Host: "B.EXAMPLE.COM", Limit: 5})
	require.NoError(t, err)
	require.Len(t, byHost, 1)

	require.NoError(t, store.MarkConnected(ctx, byHost[0].ID, "9.0.0", base))
	got, err := store.GetServerByID(ctx, byHost[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "9.0.0", got.ServerVersion)
	assert.ErrorIs(t, store.MarkConnected(ctx, "nope", "", base), storage.ErrNotFound)
}

func TestMemoryProbeResults(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateProbeResult(ctx, &models.ProbeResult{ServerID: "s_1", ProbedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := store.ListProbeResultsByServerID(ctx, storage.ListProbeResultsParams{ServerID: "s_1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].ProbedAt.After(all[2].ProbedAt))

	since := base
	recent, err := store.ListProbeResultsByServerID(ctx, storage.ListProbeResultsParams{ServerID: "s_1", Since: &since, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	none, err := store.ListProbeResultsByServerID(ctx, storage.ListProbeResultsParams{ServerID: "s_2", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}
