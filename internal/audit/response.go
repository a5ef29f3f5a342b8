package audit

import (
	"bufio"
	"net"
	"net/http"
)

// wrapResponseWriter records the status and body size of the response on e,
// whichever dispatcher writes it.
func wrapResponseWriter(w http.ResponseWriter, e *Entry) http.ResponseWriter {
	recorder := &responseRecorder{ResponseWriter: w, entry: e}
	if _, ok := w.(http.Hijacker); ok {
		return &hijackRecorder{recorder}
	}
	return recorder
}

type responseRecorder struct {
	http.ResponseWriter
	entry       *Entry
	wroteHeader bool
}

func (w *responseRecorder) WriteHeader(code int) {
	// net/http ignores superfluous calls, so only the first status is kept
	if !w.wroteHeader {
		w.wroteHeader = true
		w.entry.Status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(buf []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(buf)
	w.entry.ResponseBytes += int64(n)
	return n, err
}

func (w *responseRecorder) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type hijackRecorder struct {
	*responseRecorder
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.ResponseWriter.(http.Hijacker).Hijack()
}
