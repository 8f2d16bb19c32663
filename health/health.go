// Package health reports broker reachability and queue depth while the
// consumer runs.
package health

import (
	"context"
	"log/slog"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Watch runs every checker each interval and logs the results until ctx is
// done. Unhealthy results are logged at warn level.
func Watch(ctx context.Context, interval time.Duration, logger *slog.Logger, checkers ...Checker) {
	if interval <= 0 || len(checkers) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range checkers {
				Log(logger, c.Check(ctx))
			}
		}
	}
}

// Log writes one check result
func Log(logger *slog.Logger, result CheckResult) {
	attrs := []any{
		"check", result.Name,
		"status", string(result.Status),
		"duration", result.Duration,
	}
	for k, v := range result.Details {
		attrs = append(attrs, k, v)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}

	if result.Status == StatusHealthy {
		logger.Info(result.Message, attrs...)
		return
	}
	logger.Warn(result.Message, attrs...)
}
