package checker

import (
	"strings"
	"sync"

	"serverlink/internal/models"
	"serverlink/internal/urlutil"
)

// HostLimiter keeps one probe per host in flight. Servers sharing a host on
// different ports or schemes contend for the same slot.
type HostLimiter struct {
	mu      sync.Mutex
	holders map[string]string // host key -> server id
	skipped map[string]int    // server id -> probes skipped while contended
}

// NewHostLimiter creates a new HostLimiter.
func NewHostLimiter() *HostLimiter {
	return &HostLimiter{
		holders: make(map[string]string),
		skipped: make(map[string]int),
	}
}

// hostKey lowercases the host and drops a trailing root dot. Servers stored
// without a host fall back to the host of their origin.
func hostKey(server models.Server) string {
	host := server.Host
	if host == "" {
		host = urlutil.Hostname(server.Origin)
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// Acquire claims the server's host. On success the returned release func
// frees it; otherwise holder names the server currently probing that host.
func (hl *HostLimiter) Acquire(server models.Server) (release func(), holder string, ok bool) {
	key := hostKey(server)

	hl.mu.Lock()
	defer hl.mu.Unlock()

	if id, busy := hl.holders[key]; busy {
		hl.skipped[server.ID]++
		return nil, id, false
	}

	hl.holders[key] = server.ID
	var once sync.Once
	return func() {
		once.Do(func() {
			hl.mu.Lock()
			defer hl.mu.Unlock()
			delete(hl.holders, key)
		})
	}, server.ID, true
}

// Skipped returns how many probes of serverID were dropped because its host
// was busy.
func (hl *HostLimiter) Skipped(serverID string) int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return hl.skipped[serverID]
}
