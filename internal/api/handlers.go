// Package api provides HTTP handlers for proactive engine endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// respondRequest is the payload for POST /checkins/{id}/respond.
type respondRequest struct {
	ActionID string `json:"action_id"`
	FollowUp string `json:"follow_up,omitempty"`
}

// statsResult summarizes check-in activity for GET /stats.
type statsResult struct {
	CircleID      string                       `json:"circle_id"`
	Total         int                          `json:"total"`
	ByStatus      map[models.CheckInStatus]int `json:"by_status"`
	ByType        map[models.CheckInType]int   `json:"by_type"`
	TodayCount    int                          `json:"today_count"`
	LastCheckTime time.Time                    `json:"last_check_time,omitempty"`
}

func (s *Server) signalsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sig models.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		slog.Warn("Server.signalsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	if err := sig.Validate(); err != nil {
		slog.Warn("Server.signalsHandler: invalid signal", "error", err, "type", sig.Type)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	eng.Signals().Update(sig)

	slog.Debug("Server.signalsHandler: signal recorded", "circle_id", circleID, "type", sig.Type)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) checkInsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	writeJSONResponse(w, http.StatusOK, models.Success(eng.Queue().All()))
}

func (s *Server) pendingCheckInsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	writeJSONResponse(w, http.StatusOK, models.Success(eng.Queue().Pending()))
}

// checkInItemHandler routes /checkins/{id}/respond and /checkins/{id}/dismiss.
func (s *Server) checkInItemHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/checkins/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.getCheckInHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "respond":
		s.respondHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "dismiss":
		s.dismissHandler(w, r, parts[0])
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	}
}

func (s *Server) getCheckInHandler(w http.ResponseWriter, r *http.Request, checkInID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eng := s.registry.GetOrCreate(s.circleID(r))
	checkIn, err := eng.Queue().Get(checkInID)
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Check-in not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(checkIn))
}

func (s *Server) respondHandler(w http.ResponseWriter, r *http.Request, checkInID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.respondHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ActionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("action_id is required"))
		return
	}

	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	err := eng.Queue().Respond(r.Context(), checkInID, req.ActionID, req.FollowUp)
	switch {
	case errors.Is(err, models.ErrUnknownCheckIn):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Check-in not found"))
	case errors.Is(err, models.ErrCheckInTerminal):
		writeJSONResponse(w, http.StatusConflict, models.Error("Check-in is already resolved"))
	case errors.Is(err, models.ErrUnknownAction):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown action id"))
	case err != nil:
		slog.Error("Server.respondHandler: respond failed", "error", err, "check_in_id", checkInID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record response"))
	default:
		slog.Info("Server.respondHandler: response recorded", "circle_id", circleID, "check_in_id", checkInID)
		writeJSONResponse(w, http.StatusOK, models.RecordedWithMessage("Response recorded"))
	}
}

func (s *Server) dismissHandler(w http.ResponseWriter, r *http.Request, checkInID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	err := eng.Queue().Dismiss(r.Context(), checkInID)
	switch {
	case errors.Is(err, models.ErrUnknownCheckIn):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Check-in not found"))
	case errors.Is(err, models.ErrCheckInTerminal):
		writeJSONResponse(w, http.StatusConflict, models.Error("Check-in is already resolved"))
	case err != nil:
		slog.Error("Server.dismissHandler: dismiss failed", "error", err, "check_in_id", checkInID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to dismiss check-in"))
	default:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Check-in dismissed", nil))
	}
}

func (s *Server) preferencesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	circleID := s.circleID(r)

	switch r.Method {
	case http.MethodGet:
		prefs, err := s.store.GetPreferences(circleID)
		if err != nil {
			slog.Error("Server.preferencesHandler: load failed", "error", err, "circle_id", circleID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load preferences"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(prefs))

	case http.MethodPut:
		var prefs models.ProactivePreferences
		if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		prefs.CircleID = circleID
		if err := s.store.SavePreferences(prefs); err != nil {
			slog.Error("Server.preferencesHandler: save failed", "error", err, "circle_id", circleID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save preferences"))
			return
		}
		slog.Info("Server.preferencesHandler: preferences updated", "circle_id", circleID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Preferences updated", nil))

	default:
		w.Header().Set("Allow", "GET, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// tickHandler triggers an immediate evaluation cycle, used by operators and
// integration tests.
func (s *Server) tickHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	created := eng.Tick(r.Context(), time.Now())
	slog.Info("Server.tickHandler: manual tick complete", "circle_id", circleID, "created", len(created))
	writeJSONResponse(w, http.StatusOK, models.Success(created))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	circleID := s.circleID(r)
	eng := s.registry.GetOrCreate(circleID)
	state := eng.State()

	stats := statsResult{
		CircleID:      circleID,
		ByStatus:      make(map[models.CheckInStatus]int),
		ByType:        make(map[models.CheckInType]int),
		TodayCount:    state.TodayCheckInCount,
		LastCheckTime: state.LastCheckTime,
	}
	for _, checkIn := range eng.Queue().All() {
		stats.Total++
		stats.ByStatus[checkIn.Status]++
		stats.ByType[checkIn.Type]++
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}
