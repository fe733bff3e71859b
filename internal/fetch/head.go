package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const maxRedirects = 10

// Checker performs a best-effort existence check against a server URL and
// reports where its redirects lead.
type Checker struct {
	httpClient *http.Client
}

// New creates a Checker whose requests are bounded by timeout.
func New(timeout time.Duration) *Checker {
	return &Checker{httpClient: &http.Client{Timeout: timeout}}
}

// NewWithClient creates a Checker on top of an existing client.
func NewWithClient(client *http.Client) *Checker {
	return &Checker{httpClient: client}
}

// FinalURL issues a single HEAD request for rawURL and returns the last
// redirect target it was sent to, or rawURL when there was no redirect.
// On error rawURL is returned alongside it so callers can carry on.
func (c *Checker) FinalURL(ctx context.Context, rawURL string) (string, error) {
	var redirects []string
	client := *c.httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		redirects = append(redirects, req.URL.String())
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return rawURL, fmt.Errorf("failed to build existence check: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return rawURL, fmt.Errorf("existence check failed: %w", err)
	}
	resp.Body.Close()

	if len(redirects) == 0 {
		return rawURL, nil
	}
	return redirects[len(redirects)-1], nil
}
