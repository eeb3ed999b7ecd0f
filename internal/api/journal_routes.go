package api

import (
	"log/slog"
	"net/http"

	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/repository"
)

func (s *Server) handleJournalTail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Journal.Tail())
}

// handleJournalByDay serves one trading day oldest first, from the database
// when it is configured and from the journal file otherwise.
func (s *Server) handleJournalByDay(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if !validateDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}
	mode, err := parseMode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var entries []models.JournalEntry
	if s.src.Repo != nil {
		entries, err = s.src.Repo.GetByDay(r.Context(), date, mode)
	} else {
		start, _, _ := repository.DayBounds(date)
		entries, err = s.src.Journal.Entries(models.JournalFilter{Since: start})
		entries = byDay(entries, date, mode)
	}
	if err != nil {
		s.logger.Error("fetch journal day failed", slog.String("date", date), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to fetch journal")
		return
	}
	if entries == nil {
		entries = []models.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleJournalAll(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	f := models.JournalFilter{
		Agent:  q.Get("agent"),
		Asset:  q.Get("asset"),
		Action: models.Action(q.Get("action")),
		Limit:  parseLimit(r, 100),
	}

	var entries []models.JournalEntry
	if s.src.Repo != nil {
		entries, err = s.src.Repo.GetAll(r.Context(), f, mode)
	} else {
		entries, err = s.fileEntries(f, mode)
	}
	if err != nil {
		s.logger.Error("fetch journal failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to fetch journal")
		return
	}
	if entries == nil {
		entries = []models.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var stats *models.JournalStats
	if s.src.Repo != nil {
		stats, err = s.src.Repo.GetStats(r.Context(), mode)
	} else {
		var entries []models.JournalEntry
		entries, err = s.fileEntries(models.JournalFilter{}, mode)
		stats = summarize(entries)
	}
	if err != nil {
		s.logger.Error("fetch journal stats failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to fetch journal stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// fileEntries applies the mode filter on top of the file scan. The limit is
// applied after mode filtering.
func (s *Server) fileEntries(f models.JournalFilter, mode *bool) ([]models.JournalEntry, error) {
	if mode == nil {
		return s.src.Journal.Entries(f)
	}
	limit := f.Limit
	f.Limit = 0
	all, err := s.src.Journal.Entries(f)
	if err != nil {
		return nil, err
	}
	var out []models.JournalEntry
	for _, e := range all {
		if e.Paper != *mode {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// byDay keeps entries of one trading day and returns them oldest first.
func byDay(newestFirst []models.JournalEntry, day string, mode *bool) []models.JournalEntry {
	var out []models.JournalEntry
	for i := len(newestFirst) - 1; i >= 0; i-- {
		e := newestFirst[i]
		if repository.TradingDay(e.Timestamp) != day {
			continue
		}
		if mode != nil && e.Paper != *mode {
			continue
		}
		out = append(out, e)
	}
	return out
}

func summarize(entries []models.JournalEntry) *models.JournalStats {
	s := &models.JournalStats{TotalEntries: int64(len(entries))}
	for _, e := range entries {
		switch e.Action {
		case models.ActionBuy:
			s.BuyCount++
			s.NativeVolume += e.NativeAmount
		case models.ActionSell:
			s.SellCount++
			s.NativeVolume += e.NativeAmount
		case models.ActionBuyFail, models.ActionSellFail:
			s.FailCount++
		}
		if e.RealizedPnL != nil {
			s.RealizedPnL += *e.RealizedPnL
		}
		ts := e.Timestamp
		if s.FirstEntry == nil || ts.Before(*s.FirstEntry) {
			s.FirstEntry = &ts
		}
		if s.LastEntry == nil || ts.After(*s.LastEntry) {
			s.LastEntry = &ts
		}
	}
	return s
}
