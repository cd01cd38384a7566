package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/types"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker is the part of a source the readiness probes need.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler returns HTTP 200 while the process is alive.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("Failed to write health response: %v", err)
		}
	}
}

// ReadyHandler returns HTTP 200 if the source is reachable, 503 otherwise.
func ReadyHandler(source HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := source.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("source unhealthy: " + err.Error())); writeErr != nil {
				log.Error("Failed to write ready response: %v", writeErr)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("Failed to write ready response: %v", err)
		}
	}
}

// ReadyDetailedHandler reports health as JSON, using the detailed check
// when the source provides one.
func ReadyDetailedHandler(source HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var result *types.HealthResult
		var err error
		if detailed, ok := source.(types.DetailedHealthChecker); ok {
			result, err = detailed.HealthCheckDetailed(ctx)
		} else {
			start := time.Now()
			err = source.HealthCheck(ctx)
			result = &types.HealthResult{
				Healthy:   err == nil,
				Message:   "source does not support detailed health checks",
				Duration:  types.DurationMillis(time.Since(start)),
				CheckedAt: time.Now(),
				Details:   map[string]string{},
			}
			if err != nil {
				result.Message = err.Error()
				result.Details["error"] = err.Error()
			}
		}
		if result == nil {
			result = &types.HealthResult{CheckedAt: time.Now()}
			if err != nil {
				result.Message = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err != nil || !result.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		if jsonErr := json.NewEncoder(w).Encode(result); jsonErr != nil {
			log.Error("Failed to write detailed health response: %v", jsonErr)
		}
	}
}

// NewServeMux returns a mux serving /metrics, /health, /ready and
// /ready/detailed.
func NewServeMux(source HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler(source))
	mux.HandleFunc("/ready/detailed", ReadyDetailedHandler(source))
	return mux
}
