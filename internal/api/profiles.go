package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleet-bridge/internal/profile"
)

// createProfileRequest is the body of POST /mqtt/profiles.
type createProfileRequest struct {
	Name      string                `json:"name"`
	Config    mqtt.ConnectionConfig `json:"config"`
	IsDefault bool                  `json:"isDefault"`
}

// handleListProfiles returns every profile with passwords masked.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.List(r.Context())
	if err != nil {
		s.logger.Error("listing profiles", "error", err)
		writeInternalError(w, "failed to list profiles")
		return
	}
	for i := range profiles {
		profiles[i] = profiles[i].Redacted()
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles, "count": len(profiles)})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeProfileError(w, err, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, p.Redacted())
}

func (s *Server) handleGetDefaultProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetDefault(r.Context())
	if err != nil {
		s.writeProfileError(w, err, "failed to get default profile")
		return
	}
	writeJSON(w, http.StatusOK, p.Redacted())
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	p := &profile.Profile{Name: req.Name, Config: req.Config, IsDefault: req.IsDefault}
	if err := s.profiles.Create(r.Context(), p); err != nil {
		s.writeProfileError(w, err, "failed to create profile")
		return
	}

	s.logger.Info("profile created", "profile_id", p.ID, "name", p.Name, "default", p.IsDefault)
	s.record(r, audit.Entry{
		Action:    audit.ActionCreate,
		Subject:   audit.SubjectProfile,
		SubjectID: p.ID,
		Details:   map[string]any{"name": p.Name, "url": p.Config.BrokerURL()},
	})
	writeJSON(w, http.StatusCreated, p.Redacted())
}

// handleUpdateProfile applies a partial update. Absent fields are kept.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var u profile.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	p, err := s.profiles.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeProfileError(w, err, "failed to update profile")
		return
	}
	s.record(r, audit.Entry{Action: audit.ActionUpdate, Subject: audit.SubjectProfile, SubjectID: p.ID})
	writeJSON(w, http.StatusOK, p.Redacted())
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.profiles.Delete(r.Context(), id); err != nil {
		s.writeProfileError(w, err, "failed to delete profile")
		return
	}
	s.logger.Info("profile deleted", "profile_id", id)
	s.record(r, audit.Entry{Action: audit.ActionDelete, Subject: audit.SubjectProfile, SubjectID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDefaultProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.profiles.SetDefault(r.Context(), id); err != nil {
		s.writeProfileError(w, err, "failed to set default profile")
		return
	}
	s.record(r, audit.Entry{Action: audit.ActionSetDefault, Subject: audit.SubjectProfile, SubjectID: id})
	p, err := s.profiles.Get(r.Context(), id)
	if err != nil {
		s.writeProfileError(w, err, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, p.Redacted())
}

// writeProfileError maps profile errors to HTTP statuses.
func (s *Server) writeProfileError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		writeNotFound(w, "profile not found")
	case errors.Is(err, profile.ErrNoDefault):
		writeNotFound(w, "no default profile")
	case errors.Is(err, profile.ErrInvalidProfile):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
