package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler returns an HTTP handler for liveness checks.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns an HTTP handler for readiness checks.
// Degraded still counts as ready.
func ReadinessHandler(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result := c.Check(ctx)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(statusCode(result.Status))
		switch result.Status {
		case StatusHealthy:
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// HealthResponse is the JSON response for the detailed health endpoint.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Message   string                   `json:"message,omitempty"`
	Timestamp string                   `json:"timestamp"`
	Details   map[string]any           `json:"details,omitempty"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// CheckResponse is the JSON response for a single health check.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// DetailedHandler returns an HTTP handler that reports c as JSON. Sub-results
// produced by Combine are listed under "checks".
func DetailedHandler(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		result := c.Check(ctx)

		response := HealthResponse{
			Status:    result.Status.String(),
			Message:   result.Message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if result.Error != nil {
			response.Error = result.Error.Error()
		}
		for name, v := range result.Details {
			if sub, ok := v.(Result); ok {
				if response.Checks == nil {
					response.Checks = make(map[string]CheckResponse)
				}
				response.Checks[name] = toCheckResponse(sub)
				continue
			}
			if response.Details == nil {
				response.Details = make(map[string]any)
			}
			response.Details[name] = v
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode(result.Status))
		_ = json.NewEncoder(w).Encode(response)
	}
}

// RegisterHandlers registers all health check handlers on the given mux.
func RegisterHandlers(mux *http.ServeMux, c Checker) {
	mux.HandleFunc("/healthz", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler(c))
	mux.HandleFunc("/health", DetailedHandler(c))
}

func toCheckResponse(r Result) CheckResponse {
	out := CheckResponse{
		Status:   r.Status.String(),
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return out
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
