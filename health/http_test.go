package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fixed(s Status) Checker {
	return NewCheckerFunc("fixed", func(context.Context) Result {
		switch s {
		case StatusHealthy:
			return Healthy("ok")
		case StatusDegraded:
			return Degraded("slow")
		default:
			return Unhealthy("down", nil)
		}
	})
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("Body = %v, want 'OK'", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type = %v, want 'text/plain'", rec.Header().Get("Content-Type"))
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		status   Status
		wantCode int
		wantBody string
	}{
		{StatusHealthy, http.StatusOK, "OK"},
		{StatusDegraded, http.StatusOK, "DEGRADED"},
		{StatusUnhealthy, http.StatusServiceUnavailable, "UNHEALTHY"},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(fixed(tt.status))(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("Body = %v, want %v", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler(t *testing.T) {
	c := Combine("client",
		NewSchedulerChecker(fakeScheduler{err: errDepth}, 0),
		NewErrorRatioChecker(fakeEntries{1, 10}, ErrorRatioConfig{}),
	)

	rec := httptest.NewRecorder()
	DetailedHandler(c)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %v, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("checks = %v, want 2 entries", resp.Checks)
	}
	if got := resp.Checks["scheduler"].Status; got != "unhealthy" {
		t.Errorf("checks[scheduler].status = %q, want unhealthy", got)
	}
	if got := resp.Checks["entries"].Status; got != "healthy" {
		t.Errorf("checks[entries].status = %q, want healthy", got)
	}
	if resp.Error == "" {
		t.Error("error should be set")
	}
}

func TestDetailedHandler_PlainDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	DetailedHandler(NewSchedulerChecker(fakeScheduler{pending: 3}, 0))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Details["pending"] != float64(3) {
		t.Errorf("details[pending] = %v, want 3", resp.Details["pending"])
	}
	if resp.Checks != nil {
		t.Errorf("checks = %v, want none", resp.Checks)
	}
}

func TestRegisterHandlers(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux, fixed(StatusHealthy))

	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: Status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
