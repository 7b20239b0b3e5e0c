package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

const defaultHistoryHours = 48

// handleRunCycle triggers a control cycle immediately and returns its
// result.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := s.pipeline.RunCycle(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "manual cycle failed", slog.Any("err", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// handleGetCycle returns the most recent cycle result.
func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	last := s.pipeline.Last()
	if last == nil {
		writeJSONError(w, "no cycle has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, last)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	last := s.pipeline.Last()
	if last == nil {
		writeJSONError(w, "no cycle has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, last.Plan)
}

func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	last := s.pipeline.Last()
	if last == nil {
		writeJSONError(w, "no cycle has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, last.Baseline)
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	last := s.pipeline.Last()
	if last == nil {
		writeJSONError(w, "no cycle has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, last.Reserve)
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pipeline.LedgerState())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.pipeline.Settings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load settings", slog.Any("err", err))
		writeJSONError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var settings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(w, "invalid settings body", http.StatusBadRequest)
		return
	}
	if err := s.pipeline.UpdateSettings(ctx, settings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated")
	writeJSON(w, settings)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var o types.Override
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeJSONError(w, "invalid override body", http.StatusBadRequest)
		return
	}
	if err := s.pipeline.SetOverride(ctx, o); err != nil {
		if errors.Is(err, types.ErrInvalidOverride) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, o)
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	s.pipeline.ClearOverride(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end := historyRange(r)
	prices, err := s.storage.GetPriceHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load price history", slog.Any("err", err))
		writeJSONError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, prices)
}

func (s *Server) handleHistoryCycles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end := historyRange(r)
	cycles, err := s.storage.GetCycleHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load cycle history", slog.Any("err", err))
		writeJSONError(w, "failed to load cycle history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cycles)
}

// historyRange derives [start, end) from an optional ?hours= parameter.
func historyRange(r *http.Request) (time.Time, time.Time) {
	hours := defaultHistoryHours
	if v := r.URL.Query().Get("hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			hours = parsed
		}
	}
	end := time.Now()
	return end.Add(-time.Duration(hours) * time.Hour), end
}
