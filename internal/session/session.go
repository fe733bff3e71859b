package session

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Source fetches the client-facing configuration and license of the
// connected server.
type Source interface {
	ClientConfig(ctx context.Context) (map[string]string, error)
	ClientLicense(ctx context.Context) (map[string]string, error)
}

// Session holds what the client knows about the server it is connected to.
type Session struct {
	source Source
	log    *slog.Logger

	mu            sync.RWMutex
	config        map[string]string
	license       map[string]string
	serverVersion string
}

// New creates an empty Session backed by source.
func New(source Source, log *slog.Logger) *Session {
	return &Session{
		source:  source,
		log:     log,
		config:  map[string]string{},
		license: map[string]string{},
	}
}

// LoadConfigAndLicense fetches configuration and license concurrently.
// Whatever loads replaces the previous values; failures are logged and
// leave the value empty.
func (s *Session) LoadConfigAndLicense(ctx context.Context) {
	var cfg, license map[string]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cfg, err = s.source.ClientConfig(gctx)
		if err != nil {
			s.log.Warn("failed to load client config", "error", err)
			cfg = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		license, err = s.source.ClientLicense(gctx)
		if err != nil {
			s.log.Warn("failed to load client license", "error", err)
			license = nil
		}
		return nil
	})
	_ = g.Wait()

	// A failed fetch leaves an empty map so nothing from a previous server
	// survives a reconnect.
	if cfg == nil {
		cfg = map[string]string{}
	}
	if license == nil {
		license = map[string]string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.license = license
	s.log.Info("loaded server config and license", "config_keys", len(s.config), "licensed", s.license["IsLicensed"])
}

// SetServerVersion records the version reported by the server.
func (s *Session) SetServerVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverVersion = version
}

func (s *Session) ServerVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverVersion
}

// Config returns a copy of the client configuration.
func (s *Session) Config() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.config)
}

// License returns a copy of the client license.
func (s *Session) License() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.license)
}
