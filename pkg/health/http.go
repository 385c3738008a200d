package health

import (
	"encoding/json"
	"net/http"
)

// statusResponse is the JSON body written by Handler.
type statusResponse struct {
	Healthy      bool    `json:"healthy"`
	AgeSeconds   float64 `json:"age_seconds"`
	MaxStaleness float64 `json:"max_staleness_seconds"`
}

// Handler returns an http.Handler serving /healthz: 200 with a JSON
// body while the loop has heartbeat within MaxStaleness, 503
// otherwise.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthy, age := s.Healthy()

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(statusResponse{
			Healthy:      healthy,
			AgeSeconds:   age.Seconds(),
			MaxStaleness: MaxStaleness.Seconds(),
		})
	})
}

// ListenAndServe returns an http.Server for addr whose mux serves
// /healthz. The server is not started; the caller runs it (e.g. via
// its ListenAndServe method) and stops it with Shutdown.
func ListenAndServe(addr string, s *Server) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
