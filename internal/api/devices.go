package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/device"
)

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	Name      string        `json:"name"`
	SN        string        `json:"sn"`
	Type      device.Type   `json:"type"`
	Status    device.Status `json:"status"`
	AirportSN string        `json:"airportSn"`
}

// devicesConfigured writes a 503 when no registry is wired.
func (s *Server) devicesConfigured(w http.ResponseWriter) bool {
	if s.devices == nil {
		writeUnavailable(w, "device registry not configured")
		return false
	}
	return true
}

// handleListDevices returns every registered device, the current one first.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.writeDeviceError(w, err, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleCurrentDevices returns the selected device and gateway.
func (s *Server) handleCurrentDevices(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	sel, err := s.devices.Selection(r.Context())
	if err != nil {
		s.writeDeviceError(w, err, "failed to get current devices")
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	d, err := s.devices.Get(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &device.Device{Name: req.Name, SN: req.SN, Type: req.Type, Status: req.Status, AirportSN: req.AirportSN}
	if err := s.devices.Create(r.Context(), d); err != nil {
		s.writeDeviceError(w, err, "failed to create device")
		return
	}

	s.logger.Info("device registered", "device_id", d.ID, "sn", d.SN, "type", d.Type)
	s.record(r, audit.Entry{
		Action:    audit.ActionCreate,
		Subject:   audit.SubjectRegistry,
		SubjectID: d.ID,
		Details:   map[string]any{"name": d.Name, "sn": d.SN},
	})
	writeJSON(w, http.StatusCreated, d)
}

// handleUpdateDevice applies a partial update. Absent fields are kept.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	var u device.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.devices.Update(r.Context(), chi.URLParam(r, "deviceId"), u)
	if err != nil {
		s.writeDeviceError(w, err, "failed to update device")
		return
	}
	s.record(r, audit.Entry{Action: audit.ActionUpdate, Subject: audit.SubjectRegistry, SubjectID: d.ID})
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	id := chi.URLParam(r, "deviceId")
	if err := s.devices.Delete(r.Context(), id); err != nil {
		s.writeDeviceError(w, err, "failed to delete device")
		return
	}
	s.logger.Info("device removed", "device_id", id)
	s.record(r, audit.Entry{Action: audit.ActionDelete, Subject: audit.SubjectRegistry, SubjectID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCurrentDevice(w http.ResponseWriter, r *http.Request) {
	s.selectDevice(w, r, audit.ActionSetCurrent, func(ctx context.Context, id string) error {
		return s.devices.SetCurrent(ctx, id)
	})
}

func (s *Server) handleSetGatewayDevice(w http.ResponseWriter, r *http.Request) {
	s.selectDevice(w, r, audit.ActionSetGateway, func(ctx context.Context, id string) error {
		return s.devices.SetGateway(ctx, id)
	})
}

// selectDevice runs one of the selection setters and answers with the new
// selection.
func (s *Server) selectDevice(w http.ResponseWriter, r *http.Request, action string,
	set func(ctx context.Context, id string) error,
) {
	if !s.devicesConfigured(w) {
		return
	}
	id := chi.URLParam(r, "deviceId")
	if err := set(r.Context(), id); err != nil {
		s.writeDeviceError(w, err, "failed to select device")
		return
	}
	s.record(r, audit.Entry{Action: action, Subject: audit.SubjectRegistry, SubjectID: id})

	sel, err := s.devices.Selection(r.Context())
	if err != nil {
		s.writeDeviceError(w, err, "failed to get current devices")
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// handleClearRegistry removes every registered device.
func (s *Server) handleClearRegistry(w http.ResponseWriter, r *http.Request) {
	if !s.devicesConfigured(w) {
		return
	}
	n, err := s.devices.Clear(r.Context())
	if err != nil {
		s.writeDeviceError(w, err, "failed to clear devices")
		return
	}
	s.logger.Info("device registry cleared", "removed", n)
	s.record(r, audit.Entry{Action: audit.ActionClear, Subject: audit.SubjectRegistry, Details: map[string]any{"removed": n}})
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// resolveTarget maps the {deviceId} URL parameter onto the serial number
// service calls are published to. It writes the error response and returns
// false when resolution fails.
func (s *Server) resolveTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref := chi.URLParam(r, "deviceId")
	target, err := device.Target(r.Context(), s.devices, ref)
	if err != nil {
		s.writeDeviceError(w, err, "failed to resolve device")
		return "", false
	}
	if target != ref {
		s.logger.Debug("device resolved", "device", ref, "target", target)
	}
	return target, true
}

// writeDeviceError maps device errors to HTTP statuses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "serial number already registered")
	case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrNoChanges):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
