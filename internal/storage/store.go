package storage

import (
	"context"
	"errors"
	"time"

	"serverlink/internal/models"
)

var (
	// ErrDuplicateKey is returned when attempting to create a duplicate resource
	ErrDuplicateKey = errors.New("duplicate")
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListServersParams contains parameters for listing servers with filtering and pagination
type ListServersParams struct {
	Host      string
	AfterTime time.Time
	AfterID   string
	Limit     int
}

// ListProbeResultsParams contains parameters for listing probe results with filtering and pagination
type ListProbeResultsParams struct {
	ServerID string
	Since    *time.Time
	Limit    int
}

// Storer defines the interface for storage operations on servers and probe results
type Storer interface {
	// CreateServer stores a server keyed by origin. When the origin is already
	// known the existing server is returned together with ErrDuplicateKey.
	CreateServer(ctx context.Context, server *models.Server) (*models.Server, error)
	MarkConnected(ctx context.Context, id, serverVersion string, at time.Time) error
	GetServerByID(ctx context.Context, id string) (*models.Server, error)
	ListServers(ctx context.Context, params ListServersParams) ([]models.Server, error)
	GetAllServers(ctx context.Context) ([]models.Server, error)

	CreateProbeResult(ctx context.Context, result *models.ProbeResult) error
	ListProbeResultsByServerID(ctx context.Context, params ListProbeResultsParams) ([]models.ProbeResult, error)
}
