package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serverlink/internal/models"
	"serverlink/internal/storage"
)

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// migrate ensures the database schema is created.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
		id                TEXT PRIMARY KEY,
		origin            TEXT NOT NULL UNIQUE,
		host              TEXT NOT NULL,
		server_version    TEXT NOT NULL DEFAULT '',
		last_connected_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_servers_created_at_id ON servers (created_at, id);
	CREATE INDEX IF NOT EXISTS idx_servers_host ON servers (host);

	CREATE TABLE IF NOT EXISTS probe_results (
		id           TEXT PRIMARY KEY,
		server_id    TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		origin       TEXT NOT NULL,
		source       TEXT NOT NULL,
		probed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		reachable    BOOLEAN NOT NULL,
		status_code  INTEGER,
		latency_ms   BIGINT NOT NULL,
		error        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_probe_results_server_id_probed_at ON probe_results (server_id, probed_at DESC);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

const serverColumns = `id, origin, host, server_version, last_connected_at, created_at`

func scanServer(row pgx.Row) (*models.Server, error) {
	var srv models.Server
	if err := row.Scan(&srv.ID, &srv.Origin, &srv.Host, &srv.ServerVersion, &srv.LastConnectedAt, &srv.CreatedAt); err != nil {
		return nil, err
	}
	return &srv, nil
}

// CreateServer implements the Storer interface.
func (s *PostgresStore) CreateServer(ctx context.Context, server *models.Server) (*models.Server, error) {
	query := `
	INSERT INTO servers (id, origin, host, server_version, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (origin) DO NOTHING`
	tag, err := s.db.Exec(ctx, query, server.ID, server.Origin, server.Host, server.ServerVersion, server.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := scanServer(s.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE origin = $1`, server.Origin))
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve existing server: %w", err)
		}
		return existing, storage.ErrDuplicateKey
	}
	return server, nil
}

// MarkConnected implements the Storer interface.
func (s *PostgresStore) MarkConnected(ctx context.Context, id, serverVersion string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE servers SET server_version = $1, last_connected_at = $2 WHERE id = $3`, serverVersion, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark server connected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetServerByID implements the Storer interface.
func (s *PostgresStore) GetServerByID(ctx context.Context, id string) (*models.Server, error) {
	srv, err := scanServer(s.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server by id: %w", err)
	}
	return srv, nil
}

// ListServers implements the Storer interface.
func (s *PostgresStore) ListServers(ctx context.Context, params storage.ListServersParams) ([]models.Server, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + serverColumns + " FROM servers WHERE 1=1")
	if params.Host != "" {
		args = append(args, params.Host)
		qb.WriteString(" AND host = $" + strconv.Itoa(len(args)))
	}
	if !params.AfterTime.IsZero() && params.AfterID != "" {
		args = append(args, params.AfterTime, params.AfterID)
		qb.WriteString(fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, params.Limit)
	qb.WriteString(" ORDER BY created_at, id LIMIT $" + strconv.Itoa(len(args)))

	return s.queryServers(ctx, qb.String(), args...)
}

// GetAllServers implements the Storer interface.
func (s *PostgresStore) GetAllServers(ctx context.Context) ([]models.Server, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at, id`)
}

func (s *PostgresStore) queryServers(ctx context.Context, query string, args ...any) ([]models.Server, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server row: %w", err)
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// CreateProbeResult implements the Storer interface.
func (s *PostgresStore) CreateProbeResult(ctx context.Context, result *models.ProbeResult) error {
	if result.ID == "" {
		result.ID = storage.NewID("pr_")
	}
	query := `INSERT INTO probe_results (id, server_id, origin, source, probed_at, reachable, status_code, latency_ms, error) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, query, result.ID, result.ServerID, result.Origin, string(result.Source),
		result.ProbedAt, result.Reachable, result.StatusCode, result.LatencyMS, result.Error)
	if err != nil {
		return fmt.Errorf("failed to create probe result: %w", err)
	}
	return nil
}

// ListProbeResultsByServerID implements the Storer interface.
func (s *PostgresStore) ListProbeResultsByServerID(ctx context.Context, params storage.ListProbeResultsParams) ([]models.ProbeResult, error) {
	args := []any{params.ServerID}
	qb := strings.Builder{}
	qb.WriteString("SELECT id, server_id, origin, source, probed_at, reachable, status_code, latency_ms, error FROM probe_results WHERE server_id = $1")
	if params.Since != nil {
		args = append(args, *params.Since)
		qb.WriteString(" AND probed_at > $2")
	}
	args = append(args, params.Limit)
	qb.WriteString(" ORDER BY probed_at DESC LIMIT $" + strconv.Itoa(len(args)))

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list probe results: %w", err)
	}
	defer rows.Close()

	var results []models.ProbeResult
	for rows.Next() {
		var r models.ProbeResult
		var source string
		if err := rows.Scan(&r.ID, &r.ServerID, &r.Origin, &source, &r.ProbedAt, &r.Reachable, &r.StatusCode, &r.LatencyMS, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan probe result: %w", err)
		}
		r.Source = models.ProbeSource(source)
		results = append(results, r)
	}
	return results, rows.Err()
}
