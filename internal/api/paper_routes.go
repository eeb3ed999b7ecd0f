package api

import (
	"net/http"
)

func (s *Server) handlePaperStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Paper == nil {
		writeError(w, http.StatusNotFound, "paper trading is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.src.Paper.Stats())
}

func (s *Server) handlePaperTrades(w http.ResponseWriter, r *http.Request) {
	if s.src.Paper == nil {
		writeError(w, http.StatusNotFound, "paper trading is not enabled")
		return
	}
	trades := s.src.Paper.Trades()
	limit := parseLimit(r, 100)
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	writeJSON(w, http.StatusOK, trades)
}
