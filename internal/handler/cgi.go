package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// maxHeaderBytes caps how much of a reply may be buffered while looking for
// the end of the CGI header block.
const maxHeaderBytes = 1 << 20

// cgiResponseWriter adapts a CGI-style reply stream (a "Status:" line, the
// relayed backend header lines, a blank line, then the body) onto an
// http.ResponseWriter, the way a CGI host consumes child output. Bytes up to
// the blank line are parsed as headers; everything after passes through.
type cgiResponseWriter struct {
	rw         http.ResponseWriter
	buf        []byte
	headerDone bool
}

func newCGIResponseWriter(rw http.ResponseWriter) *cgiResponseWriter {
	return &cgiResponseWriter{rw: rw}
}

// Write buffers until the header block terminator is seen, then commits the
// parsed status and headers and streams the remainder through.
func (w *cgiResponseWriter) Write(p []byte) (int, error) {
	if w.headerDone {
		return w.rw.Write(p)
	}

	w.buf = append(w.buf, p...)
	head, rest, found := cutHeaderBlock(w.buf)
	if !found {
		if len(w.buf) > maxHeaderBytes {
			return 0, fmt.Errorf("backend header block exceeds %d bytes", maxHeaderBytes)
		}
		return len(p), nil
	}

	if err := w.commitHeader(head); err != nil {
		return 0, err
	}
	if len(rest) > 0 {
		if _, err := w.rw.Write(rest); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close commits the header block when the reply ended before a blank line
// (a header-only reply with no body).
func (w *cgiResponseWriter) Close() error {
	if w.headerDone {
		return nil
	}
	return w.commitHeader(w.buf)
}

// HeaderSent reports whether the status and headers have been written to the
// underlying ResponseWriter. Once true, the reply can only be truncated, not
// replaced.
func (w *cgiResponseWriter) HeaderSent() bool {
	return w.headerDone
}

// commitHeader parses the header block, writes status and headers to the
// underlying ResponseWriter, and switches to passthrough mode.
func (w *cgiResponseWriter) commitHeader(head []byte) error {
	status := http.StatusOK
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			// Not a header line; the backend is responsible for its own
			// bytes past the status line, so drop it rather than fail.
			continue
		}
		value = strings.TrimSpace(value)
		if http.CanonicalHeaderKey(name) == "Status" {
			if code, _, _ := strings.Cut(value, " "); code != "" {
				if n, err := strconv.Atoi(code); err == nil {
					status = n
				}
			}
			continue
		}
		w.rw.Header().Add(name, value)
	}

	w.rw.WriteHeader(status)
	w.headerDone = true
	w.buf = nil
	return nil
}

// cutHeaderBlock splits b at the first blank line, accepting CRLF or bare LF
// line endings. found is false while the terminator has not arrived yet.
func cutHeaderBlock(b []byte) (head, rest []byte, found bool) {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return b[:crlf], b[crlf+4:], true
	case lf >= 0:
		return b[:lf], b[lf+2:], true
	}
	return nil, nil, false
}
