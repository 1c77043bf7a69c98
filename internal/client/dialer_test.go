package client

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fcgi-shim-go/internal/config"
)

func testDialer(attempts, delayMillis int) *BackendDialer {
	cfg := &config.Config{
		Backend: config.BackendConfig{
			DialAttempts:    attempts,
			DialDelayMillis: delayMillis,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBackendDialer(cfg, logger, nil)
}

func TestDial_SucceedsOnceSocketAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.sock")

	// Bind the listener only after a few retry rounds have passed.
	ready := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		ln, err := net.Listen("unix", path)
		if err != nil {
			t.Error(err)
			close(ready)
			return
		}
		close(ready)
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		ln.Close()
	}()

	d := testDialer(40, 10)
	conn, err := d.Dial(context.Background(), path)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()
	<-ready
}

func TestDial_ExhaustsAttempts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.sock")

	attempts, delayMillis := 5, 10
	d := testDialer(attempts, delayMillis)

	start := time.Now()
	_, err := d.Dial(context.Background(), path)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected exhaustion error, got nil")
	}
	if !strings.Contains(err.Error(), "did not appear") {
		t.Errorf("error = %v, want dial exhaustion", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %v does not identify socket path %s", err, path)
	}
	if min := time.Duration(attempts*delayMillis) * time.Millisecond; elapsed < min {
		t.Errorf("elapsed = %v, want at least %v (attempts × delay)", elapsed, min)
	}
}

func TestDial_NonRetryableErrorPropagatesImmediately(t *testing.T) {
	// A regular file at the socket path: the dial fails with something
	// other than "not exist", which must not be retried.
	path := filepath.Join(t.TempDir(), "not-a-socket")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	d := testDialer(40, 100)

	start := time.Now()
	_, err := d.Dial(context.Background(), path)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected dial error, got nil")
	}
	if strings.Contains(err.Error(), "did not appear") {
		t.Errorf("error = %v, want an immediate dial failure, not exhaustion", err)
	}
	if elapsed > time.Second {
		t.Errorf("dial took %v; a non-retryable error should fail fast", elapsed)
	}
}

func TestDial_ContextCancelAbortsRetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.sock")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	d := testDialer(1000, 10)
	start := time.Now()
	_, err := d.Dial(ctx, path)
	if err == nil {
		t.Fatal("expected context error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dial did not abort promptly on cancellation (took %v)", elapsed)
	}
}
