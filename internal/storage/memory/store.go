package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"serverlink/internal/models"
	"serverlink/internal/storage"
)

// Store is an in-memory storage.Storer. Nothing survives a restart.
type Store struct {
	mu       sync.RWMutex
	servers  map[string]models.Server
	byOrigin map[string]string
	results  map[string][]models.ProbeResult
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		servers:  make(map[string]models.Server),
		byOrigin: make(map[string]string),
		results:  make(map[string][]models.ProbeResult),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateServer(ctx context.Context, server *models.Server) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byOrigin[server.Origin]; ok {
		existing := s.servers[id]
		return &existing, storage.ErrDuplicateKey
	}

	s.servers[server.ID] = *server
	s.byOrigin[server.Origin] = server.ID
	created := *server
	return &created, nil
}

func (s *Store) MarkConnected(ctx context.Context, id, serverVersion string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id]
	if !ok {
		return storage.ErrNotFound
	}
	at = at.UTC()
	srv.ServerVersion = serverVersion
	srv.LastConnectedAt = &at
	s.servers[id] = srv
	return nil
}

func (s *Store) GetServerByID(ctx context.Context, id string) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if srv, ok := s.servers[id]; ok {
		return &srv, nil
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListServers(ctx context.Context, params storage.ListServersParams) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var servers []models.Server
	for _, srv := range s.servers {
		if params.Host != "" && !strings.EqualFold(srv.Host, params.Host) {
			continue
		}

		// Skip items that come before or equal to the cursor
		if !params.AfterTime.IsZero() && params.AfterID != "" {
			if srv.CreatedAt.Before(params.AfterTime) ||
				(srv.CreatedAt.Equal(params.AfterTime) && srv.ID <= params.AfterID) {
				continue
			}
		}

		servers = append(servers, srv)
	}

	sortServers(servers)
	if len(servers) > params.Limit {
		return servers[:params.Limit], nil
	}
	return servers, nil
}

func (s *Store) GetAllServers(ctx context.Context) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]models.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		servers = append(servers, srv)
	}
	sortServers(servers)
	return servers, nil
}

func (s *Store) CreateProbeResult(ctx context.Context, result *models.ProbeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ID == "" {
		result.ID = storage.NewID("pr_")
	}
	s.results[result.ServerID] = append(s.results[result.ServerID], *result)
	return nil
}

func (s *Store) ListProbeResultsByServerID(ctx context.Context, params storage.ListProbeResultsParams) ([]models.ProbeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []models.ProbeResult{}
	for _, r := range s.results[params.ServerID] {
		if params.Since != nil && !r.ProbedAt.After(*params.Since) {
			continue
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ProbedAt.After(results[j].ProbedAt)
	})
	if len(results) > params.Limit {
		return results[:params.Limit], nil
	}
	return results, nil
}

// sortServers orders by (created_at, id) for deterministic pagination.
func sortServers(servers []models.Server) {
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].CreatedAt.Equal(servers[j].CreatedAt) {
			return servers[i].ID < servers[j].ID
		}
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})
}
