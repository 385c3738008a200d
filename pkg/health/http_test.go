package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandlerHealthy(t *testing.T) {
	s := NewServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandlerUnhealthyWhenStale(t *testing.T) {
	s := NewServer()
	s.last = time.Now().Add(-MaxStaleness - time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHeartbeatResetsStaleness(t *testing.T) {
	s := NewServer()
	s.last = time.Now().Add(-MaxStaleness - time.Second)

	s.Heartbeat()

	healthy, age := s.Healthy()
	if !healthy {
		t.Error("expected healthy after Heartbeat()")
	}
	if age > time.Second {
		t.Errorf("age = %v, want < 1s", age)
	}
}

func TestListenAndServeRegistersHealthz(t *testing.T) {
	s := NewServer()
	srv := ListenAndServe("127.0.0.1:0", s)
	if srv.Addr != "127.0.0.1:0" {
		t.Errorf("Addr = %q, want %q", srv.Addr, "127.0.0.1:0")
	}
	if srv.Handler == nil {
		t.Error("Handler should not be nil")
	}
}
