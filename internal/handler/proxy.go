package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"fcgi-shim-go/internal/client"
	"fcgi-shim-go/internal/metrics"
	"fcgi-shim-go/internal/supervisor"
	"fcgi-shim-go/internal/translator"
)

// Backend is the supervisor surface the handlers need.
type Backend interface {
	SocketPath() string
	State() supervisor.State
	PID() int
}

// ProxyHandler runs one gateway request against the supervised backend:
// rebuild the CGI environment, dial a fresh backend connection, write the
// translated request, relay the reply, close the connection.
type ProxyHandler struct {
	sup     Backend
	dialer  *client.BackendDialer
	tr      *translator.Translator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional;
// pass nil to disable backend response metrics.
func NewProxyHandler(sup Backend, d *client.BackendDialer, tr *translator.Translator, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		sup:     sup,
		dialer:  d,
		tr:      tr,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle translates the request, relays the backend reply, and rewrites the
// backend's status line into the gateway's Status representation. A failure
// here aborts only this request; the backend and its socket are untouched.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	env := EnvFromRequest(req)

	conn, err := h.dialer.Dial(req.Context(), h.sup.SocketPath())
	if err != nil {
		h.logger.Error("dial backend", "err", err, "path", req.URL.Path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend unavailable",
		})
	}
	defer func() { _ = conn.Close() }()

	if err := h.tr.WriteRequest(conn, env, req.Body); err != nil {
		h.logger.Error("write backend request", "err", err, "path", req.URL.Path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend request failed",
		})
	}
	// Half-close so backends that read the request to EOF can proceed; the
	// read side stays open for the reply.
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	w := newCGIResponseWriter(c.Response())
	code, err := h.tr.Relay(w, conn)
	if err != nil {
		if w.HeaderSent() {
			// The status has already been relayed; the client gets a
			// truncated reply with the original status. Inherent to a
			// streaming relay, so log it and move on.
			h.logger.Error("relay backend reply", "err", err, "path", req.URL.Path)
			return nil
		}
		h.logger.Error("relay backend reply", "err", err, "path", req.URL.Path)
		if errors.Is(err, translator.ErrBadStatusLine) {
			return c.JSON(http.StatusBadGateway, map[string]string{
				"error": "invalid backend response",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend response failed",
		})
	}
	if err := w.Close(); err != nil {
		h.logger.Error("finish backend reply", "err", err, "path", req.URL.Path)
		return nil
	}

	if h.metrics != nil {
		h.metrics.BackendResponses.WithLabelValues(strconv.Itoa(code)).Inc()
	}
	return nil
}
