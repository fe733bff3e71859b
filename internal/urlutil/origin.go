package urlutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	SchemeSecure   = "https"
	SchemeInsecure = "http"
)

// ErrNoHost is returned when no host can be derived from a candidate URL.
var ErrNoHost = errors.New("url has no host")

// NormalizeOrigin turns user input into a canonical origin of the form
// scheme://host[:port]. The rules are:
// 1. Input without a host, or with a file scheme, is re-read as a bare host
//    behind the secure scheme.
// 2. Scheme and host are lowercased; unknown schemes become https.
// 3. http is upgraded to https unless preferInsecure is set.
// 4. Default ports (80 for http, 443 for https) are stripped.
// 5. Path, query, fragment and userinfo are dropped.
func NormalizeOrigin(candidate string, preferInsecure bool) (string, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return "", ErrNoHost
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || strings.EqualFold(u.Scheme, "file") {
		u, err = url.Parse(SchemeSecure + "://" + bareHost(trimmed))
		if err != nil {
			return "", fmt.Errorf("failed to parse url: %w", err)
		}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrNoHost
	}

	scheme := strings.ToLower(u.Scheme)
	port := stripDefaultPort(scheme, u.Port())
	switch scheme {
	case SchemeSecure:
	case SchemeInsecure:
		if !preferInsecure {
			scheme = SchemeSecure
		}
	default:
		scheme = SchemeSecure
	}
	port = stripDefaultPort(scheme, port)

	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}

// Downgrade swaps the secure scheme of an origin for the insecure one.
func Downgrade(origin string) string {
	if rest, ok := strings.CutPrefix(origin, SchemeSecure+"://"); ok {
		return SchemeInsecure + "://" + rest
	}
	return origin
}

// IsSecure reports whether the origin uses the secure scheme.
func IsSecure(origin string) bool {
	return strings.HasPrefix(origin, SchemeSecure+"://")
}

// Hostname returns the host of an origin without its port.
func Hostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func stripTrailingSlashes(s string) string {
	return strings.TrimRight(s, "/")
}

// bareHost strips any scheme prefix and surrounding separators so the rest
// can be read as host[:port][/path]. "host:8065" keeps its port; opaque
// forms such as "http:example.com" or "mailto:ops@example.com" lose the
// scheme.
func bareHost(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if scheme, rest, ok := strings.Cut(s, ":"); ok && isScheme(scheme) && !startsWithPort(rest) {
		s = rest
	}
	s = strings.TrimLeft(s, "/")
	return stripTrailingSlashes(s)
}

// isScheme reports whether s is a syntactically valid URL scheme.
func isScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// startsWithPort reports whether s begins with a port number, optionally
// followed by a path, query or fragment.
func startsWithPort(s string) bool {
	port := s
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		port = s[:i]
	}
	if port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func stripDefaultPort(scheme, port string) string {
	if (scheme == SchemeInsecure && port == "80") || (scheme == SchemeSecure && port == "443") {
		return ""
	}
	return port
}
