// Package client provides the backend socket dialer.
package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"time"

	"fcgi-shim-go/internal/config"
	"fcgi-shim-go/internal/metrics"
)

// BackendDialer opens one fresh connection to the backend's unix socket per
// request, retrying while the socket path does not exist yet. The backend
// binds its listener some time after being spawned, so "no such file" is the
// expected startup race and the only error worth retrying; anything else
// (refused, permission, ...) is a real fault and propagates immediately.
//
// The metrics parameter is optional; pass nil to disable dial metrics.
type BackendDialer struct {
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBackendDialer creates a BackendDialer from the backend config.
func NewBackendDialer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendDialer {
	return &BackendDialer{
		attempts: cfg.Backend.DialAttempts,
		delay:    time.Duration(cfg.Backend.DialDelayMillis) * time.Millisecond,
		logger:   logger.With("component", "backend_dialer"),
		metrics:  m,
	}
}

// Dial connects to the unix socket at path. Up to the configured attempt
// ceiling, a dial failing with fs.ErrNotExist is followed by a fixed delay
// and retried; the worst case is attempts × delay before giving up. The
// delay honors context cancellation.
func (d *BackendDialer) Dial(ctx context.Context, path string) (net.Conn, error) {
	var dialer net.Dialer
	start := time.Now()

	for attempt := 1; attempt <= d.attempts; attempt++ {
		if d.metrics != nil {
			d.metrics.DialAttempts.Inc()
		}

		conn, err := dialer.DialContext(ctx, "unix", path)
		if err == nil {
			if d.metrics != nil {
				d.metrics.DialDuration.Observe(time.Since(start).Seconds())
			}
			if attempt > 1 {
				d.logger.Debug("backend socket ready", "attempt", attempt, "socket", path)
			}
			return conn, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("dial backend %s: %w", path, err)
		}

		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("dial backend %s: %w", path, ctx.Err())
		}
	}

	return nil, fmt.Errorf("backend socket %s did not appear after %d attempts", path, d.attempts)
}
