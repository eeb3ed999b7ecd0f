package api

import (
	"net/http"

	"github.com/kjannette/trahn-swarm/internal/models"
)

type positionsResponse struct {
	OpenPositions int                 `json:"openPositions"`
	Book          models.PositionBook `json:"book"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, positionsResponse{
		OpenPositions: s.src.Positions.OpenCount(),
		Book:          s.src.Positions.Snapshot(),
	})
}

func (s *Server) handleAgentPositions(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")
	held, ok := s.src.Positions.Snapshot()[agent]
	if !ok {
		held = map[string]models.Position{}
	}
	writeJSON(w, http.StatusOK, held)
}
