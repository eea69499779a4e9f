package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/storage"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// maxStatisticsRange bounds how many hourly points one request can read.
const maxStatisticsRange = 31 * 24 * time.Hour

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	states := s.updater.Sensors()
	if states == nil {
		states = []types.SensorState{}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	statisticID := r.URL.Query().Get("statisticID")
	if statisticID == "" {
		writeJSONError(w, "missing statisticID", http.StatusBadRequest)
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	points, err := s.storage.GetStatistics(ctx, statisticID, start, &end)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidStatisticID) {
			writeJSONError(w, "invalid statisticID", http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get statistics", slog.String("statisticID", statisticID), slog.Any("error", err))
		writeJSONError(w, "failed to get statistics", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []types.StatisticPoint{}
	}

	// Set Cache-Control headers
	// Ranges that ended before today never change, otherwise cache for 1 minute.
	if !end.After(s.startOfToday()) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleStatisticMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metas, err := s.storage.ListStatisticMetadata(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list statistic metadata", slog.Any("error", err))
		writeJSONError(w, "failed to list statistic metadata", http.StatusInternalServerError)
		return
	}
	if metas == nil {
		metas = []types.StatisticMetadata{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// startOfToday is local midnight in the provider's time zone.
func (s *Server) startOfToday() time.Time {
	loc := s.location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxStatisticsRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", maxStatisticsRange)
	}

	return start, end, nil
}
