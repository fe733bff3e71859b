package models

import (
	"errors"
	"time"
)

// ConnectionState is the connectivity status of the login flow.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateFailed     ConnectionState = "failed"
)

// ErrorDescriptor is the error body returned by the server's REST API.
// It doubles as the error attached to a failed connection attempt.
type ErrorDescriptor struct {
	ServerErrorID string `json:"server_error_id,omitempty"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
}

func (e *ErrorDescriptor) Error() string {
	if e.ServerErrorID != "" {
		return e.ServerErrorID + ": " + e.Message
	}
	return e.Message
}

// Describe converts any error into an ErrorDescriptor. Descriptors already
// present in the chain are returned as is.
func Describe(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	var desc *ErrorDescriptor
	if errors.As(err, &desc) {
		return desc
	}
	return &ErrorDescriptor{Message: err.Error()}
}

// Outcome is the settled result of one connection attempt.
type Outcome struct {
	AttemptID     string           `json:"attempt_id"`
	Candidate     string           `json:"candidate"`
	Origin        string           `json:"origin,omitempty"`
	State         ConnectionState  `json:"state"`
	Error         *ErrorDescriptor `json:"error"`
	Retried       bool             `json:"retried"`
	Probes        int              `json:"probes"`
	ServerVersion string           `json:"server_version,omitempty"`
	Cancelled     bool             `json:"cancelled"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// Reachable reports whether the attempt ended connected.
func (o Outcome) Reachable() bool { return o.State == StateConnected }

// Server is a chat server the client has connected to or registered for monitoring.
type Server struct {
	ID              string     `json:"id"`
	Origin          string     `json:"origin"`
	Host            string     `json:"-"` // Internal field for the monitor's per-host limiter
	ServerVersion   string     `json:"server_version,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ProbeSource tells where a probe result came from.
type ProbeSource string

const (
	SourceConnect ProbeSource = "connect"
	SourceMonitor ProbeSource = "monitor"
)

// ProbeResult stores the outcome of a single health check against a Server.
type ProbeResult struct {
	ID         string      `json:"id"`
	ServerID   string      `json:"-"` // Not exposed in the probe list API
	Origin     string      `json:"origin"`
	Source     ProbeSource `json:"source"`
	ProbedAt   time.Time   `json:"probed_at"`
	Reachable  bool        `json:"reachable"`
	StatusCode *int        `json:"status_code"` // Pointer to allow for null on network errors
	LatencyMS  int64       `json:"latency_ms"`
	Error      *string     `json:"error"` // Pointer to allow for null on success
}
