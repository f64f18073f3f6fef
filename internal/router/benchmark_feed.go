package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPBenchmarkFeed builds a C6 BenchmarkFeed that fetches per-provider,
// per-category quality scores from a JSON HTTP endpoint an operator
// configures. The expected response shape is
// {"provider_id": {"category": score, ...}, ...}, scores in [0,1].
func HTTPBenchmarkFeed(url string, client *http.Client) BenchmarkFeed {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context) (map[string]map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("benchmark feed: build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("benchmark feed: request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("benchmark feed: unexpected status %d", resp.StatusCode)
		}
		var out map[string]map[string]float64
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("benchmark feed: decode: %w", err)
		}
		return out, nil
	}
}

// NoopBenchmarkFeed is used when no feed URL is configured. It always
// succeeds with no data, leaving the registry at its neutral default score
// indefinitely rather than blocking request processing (§4.6).
func NoopBenchmarkFeed(ctx context.Context) (map[string]map[string]float64, error) {
	return map[string]map[string]float64{}, nil
}
