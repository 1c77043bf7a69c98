package handler

import (
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"fcgi-shim-go/internal/client"
	"fcgi-shim-go/internal/config"
	"fcgi-shim-go/internal/supervisor"
	"fcgi-shim-go/internal/translator"
)

// stubBackend satisfies Backend without a real supervised process.
type stubBackend struct{ path string }

func (s stubBackend) SocketPath() string      { return s.path }
func (s stubBackend) State() supervisor.State { return supervisor.StateRunning }
func (s stubBackend) PID() int                { return 4242 }

func testProxyConfig() *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{
			DialAttempts:    5,
			DialDelayMillis: 10,
			ChunkBytes:      4096,
		},
	}
}

func newTestProxy(t *testing.T, socketPath string) *ProxyHandler {
	t.Helper()
	cfg := testProxyConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProxyHandler(
		stubBackend{path: socketPath},
		client.NewBackendDialer(cfg, logger, nil),
		translator.New(cfg, logger),
		nil,
		logger,
	)
}

// serveCanned binds a unix listener that answers each connection with the
// given reply after draining the request, and reports received requests.
func serveCanned(t *testing.T, path, reply string) <-chan string {
	t.Helper()

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				req, _ := io.ReadAll(c)
				received <- string(req)
				_, _ = c.Write([]byte(reply))
			}(conn)
		}
	}()
	return received
}

func TestHandle_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.sock")
	received := serveCanned(t, path,
		"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\npong")

	h := newTestProxy(t, path)

	e := echo.New()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Ping", "1")
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", got, "text/plain")
	}
	if got := rec.Body.String(); got != "pong" {
		t.Errorf("body = %q, want %q", got, "pong")
	}

	wire := <-received
	if !strings.HasPrefix(wire, "GET /ping HTTP/1.0\r\n") {
		t.Errorf("backend request starts with %q, want the translated request line", firstLine(wire))
	}
	if !strings.Contains(wire, "X-Ping: 1\r\n") {
		t.Errorf("backend request %q lacks translated X-Ping header", wire)
	}
	if !strings.Contains(wire, "\r\n\r\n") {
		t.Errorf("backend request %q lacks header terminator", wire)
	}
}

func TestHandle_ForwardsBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.sock")
	received := serveCanned(t, path, "HTTP/1.0 201 Created\r\n\r\n")

	h := newTestProxy(t, path)

	e := echo.New()
	req := httptest.NewRequest("POST", "/submit", strings.NewReader("payload"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != 201 {
		t.Errorf("status = %d, want 201", rec.Code)
	}

	wire := <-received
	if !strings.HasSuffix(wire, "\r\n\r\npayload") {
		t.Errorf("backend request %q does not end with the body", wire)
	}
	if !strings.Contains(wire, "Content-Length: 7\r\n") {
		t.Errorf("backend request %q lacks Content-Length header", wire)
	}
}

func TestHandle_MalformedBackendReply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.sock")
	serveCanned(t, path, "<html>not a status line</html>")

	h := newTestProxy(t, path)

	e := echo.New()
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(httptest.NewRequest("GET", "/x", nil), rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != 502 {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid backend response") {
		t.Errorf("body = %q, want invalid-backend-response error", rec.Body.String())
	}
}

func TestHandle_BackendUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.sock")

	h := newTestProxy(t, path)

	e := echo.New()
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(httptest.NewRequest("GET", "/x", nil), rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != 502 {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "backend unavailable") {
		t.Errorf("body = %q, want backend-unavailable error", rec.Body.String())
	}
}

// Each request must get its own backend connection.
func TestHandle_FreshConnectionPerRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.sock")
	received := serveCanned(t, path, "HTTP/1.0 200 OK\r\n\r\nok")

	h := newTestProxy(t, path)
	e := echo.New()

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		if err := h.Handle(e.NewContext(httptest.NewRequest("GET", "/x", nil), rec)); err != nil {
			t.Fatalf("Handle() #%d error = %v", i, err)
		}
		if rec.Code != 200 {
			t.Fatalf("Handle() #%d status = %d, want 200", i, rec.Code)
		}
		<-received
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\r\n")
	return line
}
