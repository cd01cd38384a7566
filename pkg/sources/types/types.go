// Package types holds health reporting types shared by sources and the
// metrics endpoints.
package types

import (
	"context"
	"encoding/json"
	"time"
)

// DurationMillis is a time.Duration that marshals to JSON as milliseconds.
type DurationMillis time.Duration

// MarshalJSON implements json.Marshaler.
func (d DurationMillis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// HealthResult contains detailed health check information.
type HealthResult struct {
	Healthy   bool              `json:"healthy"`
	Message   string            `json:"message"`
	Duration  DurationMillis    `json:"duration_ms"`
	Details   map[string]string `json:"details,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// DetailedHealthChecker is implemented by sources that report more than
// a pass/fail health check.
type DetailedHealthChecker interface {
	HealthCheckDetailed(ctx context.Context) (*HealthResult, error)
}
