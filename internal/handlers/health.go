package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// BuildInfo carries the build identity reported on the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ProbeFunc checks one downstream dependency. A nil error means ready.
type ProbeFunc func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// HealthHandlers serves liveness and readiness endpoints. Liveness only
// reports the process is up; readiness runs the registered probes.
type HealthHandlers struct {
	build  BuildInfo
	clock  func() time.Time
	probes map[string]ProbeFunc
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:  time.Now,
		probes: make(map[string]ProbeFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthBuildInfo sets the build identity reported by the endpoints.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime calculation.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthProbe registers a named readiness probe.
func WithHealthProbe(name string, probe ProbeFunc) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && probe != nil {
			h.probes[name] = probe
		}
	}
}

type healthCheckPayload struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type healthPayload struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details"`
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, healthPayload{
		Status:      "ok",
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
		Details:     []string{},
	})
}

// Readyz runs every registered probe and reports degraded with details when
// any of them fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	payload := healthPayload{
		Status:      "ok",
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
		Checks:      make(map[string]healthCheckPayload, len(h.probes)),
		Details:     []string{},
	}

	status := http.StatusOK
	for _, name := range h.probeNames() {
		probe := h.probes[name]
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		started := time.Now()
		err := probe(ctx)
		cancel()

		check := healthCheckPayload{Status: "ok", Latency: time.Since(started).String()}
		if err != nil {
			check.Status = "degraded"
			check.Error = err.Error()
			payload.Status = "degraded"
			payload.Details = append(payload.Details, name+": "+err.Error())
			status = http.StatusServiceUnavailable
		}
		payload.Checks[name] = check
	}

	writeJSONResponse(w, status, payload)
}

func (h *HealthHandlers) probeNames() []string {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
