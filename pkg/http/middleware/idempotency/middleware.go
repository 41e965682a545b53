package idempotency

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/respond"
)

const (
	HeaderName       = "Idempotency-Key"
	ReplayHeaderName = "X-Idempotent-Replay"
)

// Middleware replays the stored response for a repeated Idempotency-Key. Requests without
// the header pass through. A nil store disables the middleware.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" {
				next.ServeHTTP(w, r)

				return
			}
			if len(key) > 255 {
				respond.Error(w, r, http.StatusBadRequest, "validation_error", "idempotency key is too long")

				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				respond.Error(w, r, http.StatusBadRequest, "validation_error", "unable to read request body")

				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			subject := ""
			if id, ok := auth.FromContext(r.Context()); ok {
				subject = id.Subject
			}
			scoped := sha256Hex([]byte(subject + "\x00" + key))
			fingerprint := sha256Hex(append([]byte(r.Method+" "+r.URL.Path+"\x00"), body...))

			reservation, err := store.Reserve(r.Context(), scoped, fingerprint, ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					respond.Error(w, r, http.StatusConflict, "conflict", err.Error())

					return
				}
				slog.Error("Idempotency store unavailable", "error", err)
				respond.Error(w, r, http.StatusServiceUnavailable, "dependency_unavailable", "idempotency store unavailable")

				return
			}

			switch reservation.State {
			case ReservationCompleted:
				writeStored(w, reservation.Record)

				return
			case ReservationPending:
				respond.Error(w, r, http.StatusConflict, "conflict", "another request is processing this idempotency key")

				return
			}

			rec := newRecorder()
			next.ServeHTTP(rec, r)

			// Failures are not cached so the caller may retry with the same key.
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(r.Context(), scoped); err != nil {
					slog.Error("Failed to release idempotency key", "error", err)
				}
			} else if err := store.SaveResponse(r.Context(), scoped, fingerprint, Response{
				Status:  rec.status,
				Headers: rec.header,
				Body:    rec.body.Bytes(),
			}, ttl); err != nil {
				slog.Error("Failed to save idempotent response", "error", err)
			}

			rec.flush(w)
		})
	}
}

func writeStored(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(ReplayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(record.ResponseBody); err != nil {
		slog.Error("Error writing replayed response", "error", err)
	}
}

type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *recorder) WriteHeader(status int) { r.status = status }

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status)
	if _, err := w.Write(r.body.Bytes()); err != nil {
		slog.Error("Error writing response", "error", err)
	}
}
