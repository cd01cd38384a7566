package sources

import (
	"context"
	"io"
	"time"

	"github.com/abtreece/propsort/pkg/metrics"
	"github.com/abtreece/propsort/pkg/sources/types"
)

// instrumented wraps a Source with request metrics.
type instrumented struct {
	name string
	src  Source
}

// WithMetrics wraps src so that every call is recorded under name.
func WithMetrics(name string, src Source) Source {
	return &instrumented{name: name, src: src}
}

// Unwrap returns the instrumented source.
func (m *instrumented) Unwrap() Source {
	return m.src
}

// Close closes the wrapped source when it holds connections.
func (m *instrumented) Close() error {
	if c, ok := m.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *instrumented) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	start := time.Now()
	vars, err := m.src.GetValues(ctx, keys)
	metrics.RecordSourceRequest(m.name, "get_values", err == nil, time.Since(start).Seconds())
	return vars, err
}

func (m *instrumented) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	start := time.Now()
	index, err := m.src.WatchPrefix(ctx, prefix, keys, waitIndex, stopChan)
	metrics.RecordSourceRequest(m.name, "watch_prefix", err == nil, time.Since(start).Seconds())
	return index, err
}

func (m *instrumented) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := m.src.HealthCheck(ctx)
	metrics.RecordSourceRequest(m.name, "health_check", err == nil, time.Since(start).Seconds())
	metrics.SetSourceHealthy(m.name, err == nil)
	return err
}

// HealthCheckDetailed forwards to the wrapped source when it supports
// detailed checks, and otherwise converts HealthCheck.
func (m *instrumented) HealthCheckDetailed(ctx context.Context) (*types.HealthResult, error) {
	if d, ok := m.src.(types.DetailedHealthChecker); ok {
		start := time.Now()
		result, err := d.HealthCheckDetailed(ctx)
		metrics.RecordSourceRequest(m.name, "health_check_detailed", err == nil, time.Since(start).Seconds())
		metrics.SetSourceHealthy(m.name, err == nil && result != nil && result.Healthy)
		return result, err
	}

	start := time.Now()
	err := m.HealthCheck(ctx)
	result := &types.HealthResult{
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
	return result, err
}
