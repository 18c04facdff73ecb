package gateway

import (
	"context"
	"net/http"
	"time"
)

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Prober checks a dependency's /health endpoint with a single attempt.
type Prober struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Prober{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

func (p *Prober) Probe(ctx context.Context, baseURL string) string {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return StatusDown
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return StatusDown
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return StatusUp
	}
	return StatusDown
}
