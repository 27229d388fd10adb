package gateway

import (
	"io"
	"log/slog"
	"net/http"
)

// streamPassthrough copies an upstream response to the client without
// buffering the whole payload: CORS headers, any extra headers, and the
// upstream content-type/content-length are written first, then the body is
// copied chunk by chunk. Returns the number of body bytes delivered.
//
// A mid-transfer error aborts the client connection so the client observes a
// truncated response instead of a cleanly terminated short one; partial
// delivery is an accepted failure mode and is never retried.
func streamPassthrough(w http.ResponseWriter, resp *http.Response, body io.Reader, extra http.Header, logger *slog.Logger) int64 {
	applyCORSHeaders(w.Header())
	for key, values := range extra {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}

	w.WriteHeader(resp.StatusCode)

	if body == nil || resp.ContentLength == 0 {
		return 0
	}

	streamWriter := newFlushCountingWriter(w)
	if _, err := io.Copy(streamWriter, body); err != nil {
		logger.Warn("stream copy aborted",
			"bytes_sent", streamWriter.count,
			"error", err,
		)
		// Same mechanism net/http/httputil.ReverseProxy uses: the server
		// closes the connection without a terminating chunk.
		panic(http.ErrAbortHandler)
	}
	return streamWriter.count
}

// flushCountingWriter wraps an http.ResponseWriter to count bytes written and
// flush after every chunk, keeping back-pressure between upstream reads and
// client writes.
type flushCountingWriter struct {
	http.ResponseWriter
	flusher http.Flusher
	count   int64
}

func newFlushCountingWriter(w http.ResponseWriter) *flushCountingWriter {
	fw := &flushCountingWriter{ResponseWriter: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}
	return fw
}

func (w *flushCountingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	if err == nil {
		w.count += int64(n)
		if w.flusher != nil {
			w.flusher.Flush()
		}
	}
	return n, err
}

// statusRecorder wraps http.ResponseWriter to prevent superfluous WriteHeader calls.
type statusRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.ResponseWriter.WriteHeader(code)
		r.wroteHeader = true
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
