package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/session"
)

type classStateResponse struct {
	Class string               `json:"class"`
	State *domain.SessionState `json:"state"`
}

func classParam(r *http.Request) string {
	return session.SanitizeClassName(chi.URLParam(r, "name"))
}

func (a *App) ListClasses(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"classes": a.Sessions.ListClasses(r.Context())})
}

// ClassState answers null for a class without state. Store failures are
// logged and answered the same way.
func (a *App) ClassState(w http.ResponseWriter, r *http.Request) {
	class := classParam(r)
	if class == "" {
		a.error(w, http.StatusBadRequest, "Invalid class name", "")
		return
	}
	state, err := a.Sessions.Load(r.Context(), class)
	if err != nil {
		a.logger().Error().Err(err).Str("class", class).Msg("class state read failed")
		state = nil
	}
	a.json(w, http.StatusOK, classStateResponse{Class: class, State: state})
}

// PutClassState replaces the stored state. The body is shaped like a remote
// snapshot, so unknown or malformed fields fall back to their defaults.
func (a *App) PutClassState(w http.ResponseWriter, r *http.Request) {
	class := classParam(r)
	if class == "" {
		a.error(w, http.StatusBadRequest, "Invalid class name", "")
		return
	}
	var raw json.RawMessage
	if err := decode(w, r, &raw); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	state := domain.MergeWithDefaults(decoded)
	if err := a.Sessions.Write(r.Context(), class, state); err != nil {
		a.logger().Error().Err(err).Str("class", class).Msg("class state write failed")
		a.error(w, http.StatusInternalServerError, "Store error", "")
		return
	}
	state.Volume = a.Sessions.Device().Volume()
	a.json(w, http.StatusOK, classStateResponse{Class: class, State: &state})
}

func (a *App) DeleteClass(w http.ResponseWriter, r *http.Request) {
	class := classParam(r)
	if class == "" {
		a.error(w, http.StatusBadRequest, "Invalid class name", "")
		return
	}
	if err := a.Sessions.DeleteClass(r.Context(), class); err != nil {
		a.logger().Error().Err(err).Str("class", class).Msg("class delete failed")
		a.error(w, http.StatusInternalServerError, "Store error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ClassReport(w http.ResponseWriter, r *http.Request) {
	class := classParam(r)
	if class == "" {
		a.error(w, http.StatusBadRequest, "Invalid class name", "")
		return
	}
	rep, err := a.Reports.Build(r.Context(), class)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "Report failed", "")
		return
	}
	a.json(w, http.StatusOK, rep)
}
