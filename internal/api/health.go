package api

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	OpenPositions int               `json:"openPositions"`
	Services      map[string]string `json:"services"`
}

// handleHealth always answers 200; a dependency that fails its ping is
// reported as disconnected and the status degrades.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  map[string]string{},
	}
	if s.src.Positions != nil {
		resp.OpenPositions = s.src.Positions.OpenCount()
	}

	for name, p := range s.src.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			resp.Services[name] = "disconnected"
			resp.Status = "degraded"
			continue
		}
		resp.Services[name] = "connected"
	}

	writeJSON(w, http.StatusOK, resp)
}

// PingFunc adapts a plain check function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
