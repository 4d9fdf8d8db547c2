package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/types"
)

func (s *Server) runReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "reconciler is not configured")
		return
	}
	summary, err := s.deps.Reconciler.RunOnce(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Reconcile pass failed")
		writeError(w, http.StatusServiceUnavailable, "pass_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) runAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "alert monitor is not configured")
		return
	}
	summary, err := s.deps.Alerts.RunOnce(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Alert pass failed")
		writeError(w, http.StatusServiceUnavailable, "pass_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) provisionSession(w http.ResponseWriter, r *http.Request) {
	var req sessions.ProvisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	session, err := s.deps.Sessions.Provision(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.deps.Sessions.Episodes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if episodes == nil {
		episodes = []*types.OutageEpisode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) connectSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Sessions.Connect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) disconnectSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Sessions.Disconnect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) completeReauth(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Sessions.CompleteReauth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// StateReport is the body of POST /v1/sessions/{id}/state
type StateReport struct {
	State sessions.ReportedState `json:"state"`
}

func (s *Server) reportState(w http.ResponseWriter, r *http.Request) {
	var req StateReport
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := s.deps.Sessions.ReportState(r.Context(), chi.URLParam(r, "id"), req.State)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var tenant types.Tenant
	if err := decodeBody(w, r, &tenant); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.deps.Sessions.CreateTenant(r.Context(), &tenant); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.deps.Sessions.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// ProfileRequest is the body of POST /v1/tenants/{id}/profiles
type ProfileRequest struct {
	ID    string            `json:"id,omitempty"`
	Email string            `json:"email"`
	Role  types.ProfileRole `json:"role,omitempty"`
	// Admin makes the profile the tenant's designated alert recipient
	Admin bool `json:"admin,omitempty"`
}

func (s *Server) addProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	profile := &types.Profile{ID: req.ID, Email: req.Email, Role: req.Role}
	if err := s.deps.Sessions.AddProfile(r.Context(), chi.URLParam(r, "id"), profile, req.Admin); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Sessions.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*types.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
