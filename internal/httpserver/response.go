package httpserver

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banux/tinyopds/internal/config"
)

// connWriter is the thin response writer described by the processor: it
// buffers the handler's output so it can compute Content-Length (and
// optionally gzip-encode) before writing a single fixed header set,
// followed by the body, directly to the raw connection. All writes are
// guarded: once the connection is gone, Write/WriteHeader become no-ops
// rather than panicking, per the "disposed stream yields a silent no-op"
// rule.
type connWriter struct {
	conn   net.Conn
	cfg    *config.Config
	header http.Header
	status int

	headerWritten bool
	flushed       bool
	body          bytes.Buffer
	acceptsGzip   bool
}

func newConnWriter(conn net.Conn, cfg *config.Config) *connWriter {
	return &connWriter{conn: conn, cfg: cfg, header: make(http.Header), status: http.StatusOK}
}

func (w *connWriter) Header() http.Header { return w.header }

func (w *connWriter) WriteHeader(status int) {
	if w.headerWritten {
		return
	}
	w.status = status
	w.headerWritten = true
}

func (w *connWriter) Write(p []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}

// flush emits the buffered response. Safe to call on an already-dead
// connection: write errors are swallowed since nothing useful can be done
// with them at this point.
func (w *connWriter) flush() {
	if w.flushed {
		return
	}
	w.flushed = true
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}

	payload := w.body.Bytes()
	gzipped := w.acceptsGzip && w.header.Get("Content-Encoding") == "" && len(payload) > 0
	if gzipped {
		var gz bytes.Buffer
		zw := gzip.NewWriter(&gz)
		if _, err := zw.Write(payload); err == nil && zw.Close() == nil {
			payload = gz.Bytes()
			w.header.Set("Content-Encoding", "gzip")
		}
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "HTTP/1.1 %d %s\r\n", w.status, http.StatusText(w.status))
	out.WriteString("Server: TinyOPDS/2.0\r\n")
	out.WriteString("Date: " + time.Now().UTC().Format(http.TimeFormat) + "\r\n")
	out.WriteString("Connection: close\r\n")
	if w.header.Get("Cache-Control") == "" {
		out.WriteString("Cache-Control: no-cache\r\n")
	}
	if w.header.Get("Content-Type") == "" {
		out.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	}
	for key, values := range w.header {
		for _, v := range values {
			out.WriteString(key + ": " + v + "\r\n")
		}
	}
	out.WriteString("Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n")
	out.Write(payload)

	_, _ = w.conn.Write(out.Bytes())
}

// acceptsEncodingGzip reports whether an Accept-Encoding header value lists
// gzip among its tokens.
func acceptsEncodingGzip(acceptEncoding string) bool {
	for _, tok := range strings.Split(acceptEncoding, ",") {
		if strings.TrimSpace(strings.SplitN(tok, ";", 2)[0]) == "gzip" {
			return true
		}
	}
	return false
}
