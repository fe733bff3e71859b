package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"serverlink/internal/models"
	"serverlink/internal/storage"
)

// timeLayout keeps timestamps fixed-width so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS servers (
	id                TEXT PRIMARY KEY,
	origin            TEXT NOT NULL UNIQUE,
	host              TEXT NOT NULL,
	server_version    TEXT NOT NULL DEFAULT '',
	last_connected_at TEXT,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_servers_created_at_id ON servers (created_at, id);
CREATE INDEX IF NOT EXISTS idx_servers_host ON servers (host);

CREATE TABLE IF NOT EXISTS probe_results (
	id           TEXT PRIMARY KEY,
	server_id    TEXT NOT NULL,
	origin       TEXT NOT NULL,
	source       TEXT NOT NULL,
	probed_at    TEXT NOT NULL,
	reachable    INTEGER NOT NULL,
	status_code  INTEGER,
	latency_ms   INTEGER NOT NULL,
	error        TEXT,
	FOREIGN KEY(server_id) REFERENCES servers(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_probe_results_server_id_probed_at ON probe_results (server_id, probed_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const serverColumns = `id, origin, host, server_version, last_connected_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*models.Server, error) {
	var srv models.Server
	var createdAtStr string
	var lastConnected sql.NullString
	if err := row.Scan(&srv.ID, &srv.Origin, &srv.Host, &srv.ServerVersion, &lastConnected, &createdAtStr); err != nil {
		return nil, err
	}
	srv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	if lastConnected.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastConnected.String); err == nil {
			srv.LastConnectedAt = &t
		}
	}
	return &srv, nil
}

// CreateServer saves a new server unless its origin is already known.
func (s *SQLiteStore) CreateServer(ctx context.Context, server *models.Server) (*models.Server, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
INSERT INTO servers (id, origin, host, server_version, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(origin) DO NOTHING`
	res, err := tx.ExecContext(ctx, query, server.ID, server.Origin, server.Host, server.ServerVersion, server.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert server: %w", err)
	}
	rowsAffected, _ := res.RowsAffected()
	if rowsAffected == 0 {
		existing, err := scanServer(tx.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE origin = ?`, server.Origin))
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve existing server: %w", err)
		}
		return existing, storage.ErrDuplicateKey
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return server, nil
}

// MarkConnected records a successful connection to a server.
func (s *SQLiteStore) MarkConnected(ctx context.Context, id, serverVersion string, at time.Time) error {
	query := `UPDATE servers SET server_version = ?, last_connected_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, serverVersion, at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to mark server connected: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetServerByID retrieves a single server by its unique ID.
func (s *SQLiteStore) GetServerByID(ctx context.Context, id string) (*models.Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server by id: %w", err)
	}
	return srv, nil
}

// ListServers retrieves a paginated list of servers.
func (s *SQLiteStore) ListServers(ctx context.Context, params storage.ListServersParams) ([]models.Server, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + serverColumns + " FROM servers WHERE 1=1")
	if params.Host != "" {
		args = append(args, params.Host)
		qb.WriteString(" AND host = ?")
	}
	if !params.AfterTime.IsZero() && params.AfterID != "" {
		args = append(args, params.AfterTime.UTC().Format(timeLayout), params.AfterID)
		qb.WriteString(" AND (created_at, id) > (?, ?)")
	}
	qb.WriteString(" ORDER BY created_at, id LIMIT ?")
	args = append(args, params.Limit)

	return s.queryServers(ctx, qb.String(), args...)
}

// GetAllServers retrieves all servers from the database.
func (s *SQLiteStore) GetAllServers(ctx context.Context) ([]models.Server, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at, id`)
}

func (s *SQLiteStore) queryServers(ctx context.Context, query string, args ...any) ([]models.Server, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// CreateProbeResult saves a new probe result to the database.
func (s *SQLiteStore) CreateProbeResult(ctx context.Context, result *models.ProbeResult) error {
	if result.ID == "" {
		result.ID = storage.NewID("pr_")
	}
	query := `INSERT INTO probe_results (id, server_id, origin, source, probed_at, reachable, status_code, latency_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, result.ID, result.ServerID, result.Origin, string(result.Source),
		result.ProbedAt.UTC().Format(timeLayout), result.Reachable, result.StatusCode, result.LatencyMS, result.Error)
	if err != nil {
		return fmt.Errorf("failed to create probe result: %w", err)
	}
	return nil
}

// ListProbeResultsByServerID retrieves recent probe results for a server.
func (s *SQLiteStore) ListProbeResultsByServerID(ctx context.Context, params storage.ListProbeResultsParams) ([]models.ProbeResult, error) {
	args := []any{params.ServerID}
	qb := strings.Builder{}
	qb.WriteString("SELECT id, server_id, origin, source, probed_at, reachable, status_code, latency_ms, error FROM probe_results WHERE server_id = ?")
	if params.Since != nil {
		args = append(args, params.Since.UTC().Format(timeLayout))
		qb.WriteString(" AND probed_at > ?")
	}
	qb.WriteString(" ORDER BY probed_at DESC LIMIT ?")
	args = append(args, params.Limit)
	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list probe results: %w", err)
	}
	defer rows.Close()
	var results []models.ProbeResult
	for rows.Next() {
		var r models.ProbeResult
		var probedAtStr, source string
		if err := rows.Scan(&r.ID, &r.ServerID, &r.Origin, &source, &probedAtStr, &r.Reachable, &r.StatusCode, &r.LatencyMS, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan probe result row: %w", err)
		}
		r.Source = models.ProbeSource(source)
		r.ProbedAt, _ = time.Parse(time.RFC3339Nano, probedAtStr)
		results = append(results, r)
	}
	return results, rows.Err()
}
