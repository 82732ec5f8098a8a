package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"scale-task-dashboard/internal/modal"
)

// CallbackAuthHeader carries the shared secret on callbacks.
const CallbackAuthHeader = "scale-callback-auth"

const (
	callbackAccepted = "Success!"
	callbackRejected = "Callback auth key is incorrect. Invalid callback"
)

// CallbackAuth holds the shared callback secret. An empty key disables the check. The key
// can be replaced while serving.
type CallbackAuth struct {
	key atomic.Pointer[string]
}

func NewCallbackAuth(key string) *CallbackAuth {
	a := &CallbackAuth{}
	a.SetKey(key)
	return a
}

func (a *CallbackAuth) SetKey(key string) {
	a.key.Store(&key)
}

func (a *CallbackAuth) Enabled() bool {
	return *a.key.Load() != ""
}

// Verify reports whether r carries the configured secret, byte for byte.
func (a *CallbackAuth) Verify(r *http.Request) bool {
	key := *a.key.Load()
	if key == "" {
		return true
	}
	got := r.Header.Get(CallbackAuthHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}

// handleCallback acknowledges the callback before anything is persisted. Whatever happens
// after the acknowledgment is only logged.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Verify(r) {
		s.countCallback(r.Context(), "rejected")
		s.logger.Warn("callback rejected: auth key mismatch", "path", r.URL.Path)
		writeText(w, http.StatusInternalServerError, callbackRejected)
		return
	}

	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))

	writeText(w, http.StatusOK, callbackAccepted)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.countCallback(r.Context(), "accepted")

	if readErr != nil {
		s.logger.Error("error reading callback body", "path", r.URL.Path, "error", readErr)
		return
	}
	var cb modal.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		s.logger.Error("error decoding callback body", "path", r.URL.Path, "error", err)
		return
	}
	if cb.TaskID == "" {
		s.logger.Error("callback without task_id ignored", "path", r.URL.Path)
		return
	}
	s.dispatcher.Dispatch(cb)
}

func (s *Server) countCallback(ctx context.Context, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CallbacksReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
