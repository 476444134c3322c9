package httpadapter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	requestIDHeader  = "X-Request-Id"
	generationHeader = "X-Snapshot-Generation"
)

// requestState rides in the request context so handlers can annotate the
// access log line written after they return.
type requestState struct {
	id            string
	errorCode     string
	generation    uint64
	hasGeneration bool
}

type requestStateKey struct{}

// stateFrom never returns nil; handlers served outside requestIDMiddleware
// write into a throwaway state.
func stateFrom(ctx context.Context) *requestState {
	if st, ok := ctx.Value(requestStateKey{}).(*requestState); ok {
		return st
	}
	return &requestState{}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		st := &requestState{id: requestID}
		r = r.WithContext(context.WithValue(r.Context(), requestStateKey{}, st))
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

// servedGeneration tags the response with the snapshot generation that
// answered it. Call before the body is written.
func servedGeneration(w http.ResponseWriter, r *http.Request, generation uint64) {
	w.Header().Set(generationHeader, strconv.FormatUint(generation, 10))
	st := stateFrom(r.Context())
	st.generation = generation
	st.hasGeneration = true
}

func accessLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		remoteAddr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteAddr = host
		}
		st := stateFrom(r.Context())
		attrs := []any{
			"request_id", st.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", remoteAddr,
		}
		if st.hasGeneration {
			attrs = append(attrs, "snapshot_generation", st.generation)
		}
		if st.errorCode != "" {
			attrs = append(attrs, "error_code", st.errorCode)
		}

		level := slog.LevelInfo
		switch {
		case recorder.statusCode >= 500:
			level = slog.LevelError
		case recorder.statusCode >= 400:
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http_request", attrs...)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
