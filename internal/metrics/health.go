package metrics

import (
	"net/http"
	"sync"
)

// Health reports whether hardened memory is usable. It serves 200 while
// serving and 503 otherwise.
type Health struct {
	mu      sync.RWMutex
	serving bool
	reason  string
}

// NewHealth creates a health handler that starts out not serving
func NewHealth() *Health {
	return &Health{reason: "starting"}
}

// SetServing marks the process healthy
func (h *Health) SetServing() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.serving, h.reason = true, ""
}

// SetNotServing marks the process unhealthy with a short reason
func (h *Health) SetNotServing(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.serving, h.reason = false, reason
}

// ServeHTTP implements http.Handler
func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	serving, reason := h.serving, h.reason
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !serving {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT_SERVING: " + reason + "\n"))
		return
	}
	_, _ = w.Write([]byte("SERVING\n"))
}
