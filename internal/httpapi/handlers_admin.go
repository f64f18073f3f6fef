package httpapi

import (
	"encoding/json"
	"net/http"
)

// HealthStatsHandler reports C7's circuit-breaker state for every provider
// the health tracker has seen, as a "providers" list of per-provider stats:
// circuit state, request and error counts, consecutive failures, and rolling
// latency percentiles.
func HealthStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if d.Health == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"providers": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": d.Health.AllStats()})
	}
}
