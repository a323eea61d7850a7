package healthprobe

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// CheckFunc reports whether one component is ready to serve.
type CheckFunc func() bool

// HealthChecker tracks process liveness and per-component readiness.
// Components either record a fixed state through SetReady or register
// a live CheckFunc consulted on every probe.
type HealthChecker struct {
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// New creates a health checker with no components registered. A
// checker without components reports ready.
func New() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// SetReady records a fixed readiness state for a component,
// registering the component on first use.
func (h *HealthChecker) SetReady(component string, ready bool) {
	h.AddCheck(component, func() bool { return ready })
}

// AddCheck registers a component whose readiness is evaluated on every
// probe. The check must be safe to call concurrently.
func (h *HealthChecker) AddCheck(component string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[component] = check
}

func (h *HealthChecker) waiting() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var waiting []string
	for name, check := range h.checks {
		if !check() {
			waiting = append(waiting, name)
		}
	}
	sort.Strings(waiting)
	return waiting
}

// HealthResponse is the body of both probe endpoints.
type HealthResponse struct {
	Status  string   `json:"status"`
	Uptime  string   `json:"uptime"`
	Waiting []string `json:"waiting,omitempty"`
}

// Health returns the liveness handler. It answers 200 whenever the
// process is able to serve requests at all.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "healthy",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

// Ready returns the readiness handler. It answers 200 once every
// registered component reports ready, 503 with the waiting list
// otherwise.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if waiting := h.waiting(); len(waiting) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "not_ready",
				Uptime:  time.Since(h.startTime).String(),
				Waiting: waiting,
			})
			return
		}

		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "ready",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
