package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"colorlogic/internal/catalog"
	"colorlogic/internal/control"
	"colorlogic/internal/planner"
	"colorlogic/internal/plugins/lights"
	"colorlogic/internal/tracker"
)

// LightStatus is the JSON rendering of one light's tracker snapshot.
// Mode, power, and operation fields are omitted while unknown or idle.
type LightStatus struct {
	Name           string `json:"name"`
	Mode           string `json:"mode,omitempty"`
	ModeIndex      int    `json:"mode_index"`
	State          string `json:"state"`
	Operation      string `json:"operation,omitempty"`
	Target         string `json:"target,omitempty"`
	Power          *bool  `json:"power,omitempty"`
	PendingPulses  int    `json:"pending_pulses"`
	ProtectedUntil string `json:"protected_until,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

func lightStatusJSON(name string, status tracker.Status) LightStatus {
	out := LightStatus{
		Name:          name,
		State:         string(status.State),
		PendingPulses: status.PendingPulses,
		LastError:     status.LastError,
	}
	if status.Believed != nil {
		out.Mode = status.Believed.Key
		out.ModeIndex = status.Believed.Index
	}
	if status.Operation != tracker.OpNone {
		out.Operation = string(status.Operation)
	}
	if status.Target != nil {
		out.Target = status.Target.Key
	}
	if status.PowerKnown {
		power := status.Power
		out.Power = &power
	}
	if !status.ProtectedUntil.IsZero() {
		out.ProtectedUntil = status.ProtectedUntil.UTC().Format(time.RFC3339)
	}
	return out
}

// handleListLights returns status for every registered light
func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	statuses := make([]LightStatus, 0)
	for _, name := range s.controls.Names() {
		ctrl, err := s.controls.Get(name)
		if err != nil {
			continue
		}
		statuses = append(statuses, lightStatusJSON(name, ctrl.Status()))
	}
	s.writeJSON(w, http.StatusOK, map[string][]LightStatus{"lights": statuses})
}

// handleGetLight returns one light's status
func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, err := s.controls.Get(name)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lightStatusJSON(name, ctrl.Status()))
}

type setModeRequest struct {
	Mode  string `json:"mode"`
	Index int    `json:"index"`
}

// handleSetMode starts a mode change. The response is 202: pulses run in
// the background and the tracker confirms them asynchronously.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, err := s.controls.Get(name)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var mode catalog.Mode
	switch {
	case req.Mode != "":
		mode, err = catalog.Find(req.Mode)
	case req.Index != 0:
		mode, err = catalog.ByIndex(req.Index)
	default:
		s.writeError(w, http.StatusBadRequest, errors.New("mode or index is required"))
		return
	}
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	if err := ctrl.SetMode(mode.Key); err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	s.logger.Info("Mode change requested via API",
		zap.String("light", name),
		zap.String("mode", mode.Key))
	s.writeJSON(w, http.StatusAccepted, lightStatusJSON(name, ctrl.Status()))
}

type setColorRequest struct {
	R *uint8 `json:"r"`
	G *uint8 `json:"g"`
	B *uint8 `json:"b"`
}

// handleSetColor starts a change to the nearest fixed-color mode
func (s *Server) handleSetColor(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, err := s.controls.Get(name)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	var req setColorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.R == nil || req.G == nil || req.B == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("r, g, and b are required"))
		return
	}

	mode, err := ctrl.SetColor(*req.R, *req.G, *req.B)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	s.logger.Info("Color change requested via API",
		zap.String("light", name),
		zap.String("matched_mode", mode.Key))
	s.writeJSON(w, http.StatusAccepted, lightStatusJSON(name, ctrl.Status()))
}

// handleNextMode advances the light one step in the rotation
func (s *Server) handleNextMode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, err := s.controls.Get(name)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	mode, err := ctrl.NextMode()
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	s.logger.Info("Mode advance requested via API",
		zap.String("light", name),
		zap.String("advancing_to", mode.Key))
	s.writeJSON(w, http.StatusAccepted, lightStatusJSON(name, ctrl.Status()))
}

// handleReset starts a reset recalibration
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, err := s.controls.Get(name)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	if err := ctrl.Reset(); err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	s.logger.Info("Reset requested via API", zap.String("light", name))
	s.writeJSON(w, http.StatusAccepted, lightStatusJSON(name, ctrl.Status()))
}

type setPowerRequest struct {
	On *bool `json:"on"`
}

// handleSetPower switches the light relay directly
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, err := s.controls.Get(name)
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	var req setPowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.On == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("on is required"))
		return
	}

	if err := ctrl.SetPower(*req.On); err != nil {
		s.writeCommandError(w, name, err)
		return
	}

	s.logger.Info("Power switched via API",
		zap.String("light", name),
		zap.Bool("on", *req.On))
	s.writeJSON(w, http.StatusOK, lightStatusJSON(name, ctrl.Status()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeCommandError maps controller errors onto HTTP statuses. Busy and
// disabled lights are conflicts; unknown names and modes are not found.
func (s *Server) writeCommandError(w http.ResponseWriter, light string, err error) {
	switch {
	case errors.Is(err, control.ErrUnknownLight),
		errors.Is(err, catalog.ErrUnknownMode),
		errors.Is(err, catalog.ErrOutOfRange):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, tracker.ErrOperationInProgress),
		errors.Is(err, lights.ErrLightsDisabled),
		errors.Is(err, planner.ErrIndeterminateState):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, tracker.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("Light command failed",
			zap.String("light", light),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
