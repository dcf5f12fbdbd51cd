package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ComponentWorker is the component name the controller reports under.
const ComponentWorker = "worker"

// HealthStatus is the body served by the /health and /ready endpoints
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Detail  string
	Updated time.Time
}

// HealthRegistry holds component health reported by the running host.
type HealthRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewHealthRegistry creates a registry whose readiness depends on the given
// critical components.
func NewHealthRegistry(version string, critical ...string) *HealthRegistry {
	return &HealthRegistry{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
		version:    version,
	}
}

// Report records the latest health of a component.
func (r *HealthRegistry) Report(name string, healthy bool, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Detail:  detail,
		Updated: time.Now(),
	}
}

// Component returns the last report for name.
func (r *HealthRegistry) Component(name string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Health returns the overall health status.
func (r *HealthRegistry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(r.components))
	for name, comp := range r.components {
		if comp.Healthy {
			components[name] = "healthy: " + comp.Detail
			continue
		}
		status = "unhealthy"
		components[name] = "unhealthy: " + comp.Detail
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
	}
}

// Readiness reports ready only when every critical component is healthy.
func (r *HealthRegistry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	critical := append([]string(nil), r.critical...)
	sort.Strings(critical)
	for _, name := range critical {
		comp, exists := r.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not reported"
		case !comp.Healthy:
			status = "not_ready"
			message = name + " " + comp.Detail
			components[name] = "not ready: " + comp.Detail
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
	}
}

// HealthHandler serves /health
func (r *HealthRegistry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		health := r.Health()
		code := http.StatusOK
		if health.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves /ready
func (r *HealthRegistry) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		readiness := r.Readiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
