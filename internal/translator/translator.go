// Package translator converts gateway requests into the backend's plain
// HTTP/1.0-style wire form and relays backend replies, rewriting the leading
// status line into the gateway's "Status:" representation.
package translator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"fcgi-shim-go/internal/config"
	"fcgi-shim-go/internal/model"
)

// ErrBadStatusLine is returned when the backend's reply does not open with a
// recognizable "<token> <code> <reason>" status line. That is a contract
// violation by the backend, not a recoverable condition.
var ErrBadStatusLine = errors.New("backend reply does not start with a status line")

// statusLinePattern matches the backend's status line after trailing line
// terminators are trimmed: scheme/version token, numeric code, optional reason.
var statusLinePattern = regexp.MustCompile(`^\S+ (\d+)(?: (.*))?$`)

// headerEnvKeys are the non-HTTP_-prefixed environment keys that still become
// backend headers, passed through the capitalization rule whole.
var headerEnvKeys = map[string]bool{
	"CONTENT_LENGTH": true,
	"CONTENT_TYPE":   true,
}

// Translator performs both translation directions for one request at a time.
// It holds no per-request state, so a single instance is safe to share.
type Translator struct {
	chunk  int
	logger *slog.Logger
}

// New creates a Translator using the configured chunk size for body and
// reply streaming.
func New(cfg *config.Config, logger *slog.Logger) *Translator {
	return &Translator{
		chunk:  cfg.Backend.ChunkBytes,
		logger: logger.With("component", "translator"),
	}
}

// RequestLine builds the backend request line from the environment. The
// protocol version is always HTTP/1.0 regardless of what the gateway
// reported; the reported value is not trustworthy enough to forward.
func RequestLine(env model.Env) (string, error) {
	method := env.Get("REQUEST_METHOD")
	if method == "" {
		return "", errors.New("environment has no REQUEST_METHOD")
	}
	uri := env.Get("REQUEST_URI")
	if uri == "" {
		return "", errors.New("environment has no REQUEST_URI")
	}
	return fmt.Sprintf("%s %s HTTP/1.0", method, uri), nil
}

// HeadersFromEnv derives the backend header list from the environment:
// HTTP_-prefixed variables with the prefix stripped, plus CONTENT_LENGTH and
// CONTENT_TYPE whole. Everything else is dropped. Entries keep the
// environment's order.
func HeadersFromEnv(env model.Env) []model.Header {
	var headers []model.Header
	for _, v := range env {
		switch {
		case strings.HasPrefix(v.Name, "HTTP_"):
			headers = append(headers, model.Header{
				Name:  headerName(strings.TrimPrefix(v.Name, "HTTP_")),
				Value: v.Value,
			})
		case headerEnvKeys[v.Name]:
			headers = append(headers, model.Header{
				Name:  headerName(v.Name),
				Value: v.Value,
			})
		}
	}
	return headers
}

// headerName turns an underscored environment key into dashed, capitalized
// header form: X_FORWARDED_FOR → X-Forwarded-For.
func headerName(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		p = strings.ToLower(p)
		if p != "" {
			p = strings.ToUpper(p[:1]) + p[1:]
		}
		parts[i] = p
	}
	return strings.Join(parts, "-")
}

// WriteRequest writes the translated request onto the backend connection:
// request line, header lines, blank terminator, then the body streamed in
// chunk-sized reads. The header block goes out in a single write so the
// backend sees a clean line-delimited block before any body bytes.
func (t *Translator) WriteRequest(conn io.Writer, env model.Env, body io.Reader) error {
	line, err := RequestLine(env)
	if err != nil {
		return err
	}
	t.logger.Debug("forwarding request", "request_line", line)

	var head strings.Builder
	head.WriteString(line)
	head.WriteString("\r\n")
	for _, h := range HeadersFromEnv(env) {
		head.WriteString(h.Name)
		head.WriteString(": ")
		head.WriteString(h.Value)
		head.WriteString("\r\n")
	}
	head.WriteString("\r\n")

	if _, err := io.WriteString(conn, head.String()); err != nil {
		return fmt.Errorf("write backend request: %w", err)
	}

	if body == nil {
		return nil
	}
	if _, err := io.CopyBuffer(conn, body, make([]byte, t.chunk)); err != nil {
		return fmt.Errorf("stream request body: %w", err)
	}
	return nil
}

// Relay streams the backend reply to dst. The first line must be a status
// line; it is rewritten to "Status: <code> <reason>" and every byte after it
// is passed through unmodified. Returns the status code for observability.
//
// The status line is read through a chunk-sized buffered reader, so a line
// split across reads is still parsed; a line that does not fit the buffer at
// all is rejected.
func (t *Translator) Relay(dst io.Writer, src io.Reader) (int, error) {
	br := bufio.NewReaderSize(src, t.chunk)

	line, err := br.ReadSlice('\n')
	switch {
	case err == nil:
		// full line in hand
	case errors.Is(err, io.EOF) && len(line) > 0:
		// reply without trailing data after the status line
	case errors.Is(err, bufio.ErrBufferFull):
		return 0, fmt.Errorf("%w: first line exceeds %d bytes", ErrBadStatusLine, t.chunk)
	case errors.Is(err, io.EOF):
		return 0, fmt.Errorf("%w: empty reply", ErrBadStatusLine)
	default:
		return 0, fmt.Errorf("read backend status line: %w", err)
	}

	m := statusLinePattern.FindStringSubmatch(strings.TrimRight(string(line), "\r\n"))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadStatusLine, strings.TrimRight(string(line), "\r\n"))
	}
	code, reason := m[1], m[2]
	n, _ := strconv.Atoi(code)

	status := "Status: " + code
	if reason != "" {
		status += " " + reason
	}
	if _, err := io.WriteString(dst, status+"\r\n"); err != nil {
		return n, fmt.Errorf("write status line: %w", err)
	}

	// The status is on the wire now; a failure past this point surfaces to
	// the caller as a truncated reply, not a fresh error response.
	if _, err := io.CopyBuffer(dst, br, make([]byte, t.chunk)); err != nil {
		return n, fmt.Errorf("relay backend reply: %w", err)
	}

	t.logger.Debug("relayed backend reply", "status", n)
	return n, nil
}
