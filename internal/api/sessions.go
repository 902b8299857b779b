package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/bridge"
	"github.com/nerrad567/fleet-bridge/internal/servicecall"
)

// serviceCallTimeout bounds a REST service call, reply subscription included.
const serviceCallTimeout = 15 * time.Second

// handleListSessions returns a snapshot of every live session.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	snaps := make([]bridge.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snap, err := sess.Snapshot(r.Context())
		if err != nil {
			// Closed between List and Snapshot.
			continue
		}
		snaps = append(snaps, snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": snaps, "count": len(snaps)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessionSubscriptions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	subs, err := sess.Subscriptions(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}

// handleSessionHistory returns recent messages, newest first. The optional
// limit query parameter caps the count.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	records, err := sess.History(r.Context(), limit)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": records, "count": len(records)})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.ClearHistory(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionDevices(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	devices, err := sess.Devices(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleSessionDevice(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	state, found, err := sess.Device(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleClearDevices(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.ClearDevices(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleServiceCall issues a service call through a session. The body has
// the shape of the service_call command.
func (s *Server) handleServiceCall(w http.ResponseWriter, r *http.Request) {
	var cmd bridge.ServiceCallCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.callService(w, r, cmd.Target, func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
		return s.services.Call(ctx, sess, cmd.Target, cmd.Method, cmd.Data, servicecall.Options{
			QoS:                cmd.QoS,
			Retain:             cmd.Retain,
			SkipReplySubscribe: !cmd.AutoSubscribe(),
		})
	})
}

// handleLive runs one of the live-stream helpers against a device:
// start, stop, status or params. The device is resolved through the
// registry, so a docked aircraft is addressed through its dock.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	target, ok := s.resolveTarget(w, r)
	if !ok {
		return
	}

	var issue func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error)
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		var cfg servicecall.LiveConfig
		if !decodeOptionalBody(w, r, &cfg) {
			return
		}
		issue = func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
			return s.services.LiveStart(ctx, sess, target, cfg, servicecall.Options{})
		}
	case "stop":
		issue = func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
			return s.services.LiveStop(ctx, sess, target, servicecall.Options{})
		}
	case "status":
		issue = func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
			return s.services.LiveStatus(ctx, sess, target, servicecall.Options{})
		}
	case "params":
		var params servicecall.LiveParams
		if !decodeOptionalBody(w, r, &params) {
			return
		}
		issue = func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
			return s.services.LiveSetParams(ctx, sess, target, params, servicecall.Options{})
		}
	default:
		writeNotFound(w, "unknown live action "+strconv.Quote(action))
		return
	}

	s.callService(w, r, target, issue)
}

// handleFileUpload runs one of the file-upload helpers against a device:
// list, start or update. start and update forward the request body as data.
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	target, ok := s.resolveTarget(w, r)
	if !ok {
		return
	}

	var issue func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error)
	switch action := chi.URLParam(r, "action"); action {
	case "list":
		var body struct {
			Modules []string `json:"modules"`
		}
		if !decodeOptionalBody(w, r, &body) {
			return
		}
		issue = func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
			return s.services.FileUploadList(ctx, sess, target, body.Modules, servicecall.Options{})
		}
	case "start", "update":
		var data json.RawMessage
		if !decodeOptionalBody(w, r, &data) {
			return
		}
		issue = func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error) {
			if action == "start" {
				return s.services.FileUploadStart(ctx, sess, target, data, servicecall.Options{})
			}
			return s.services.FileUploadUpdate(ctx, sess, target, data, servicecall.Options{})
		}
	default:
		writeNotFound(w, "unknown fileupload action "+strconv.Quote(action))
		return
	}

	s.callService(w, r, target, issue)
}

// callService resolves the session and runs issue with a bounded context.
// Accepted calls are recorded in the audit trail against target.
func (s *Server) callService(w http.ResponseWriter, r *http.Request, target string,
	issue func(ctx context.Context, sess *bridge.Session) (servicecall.Call, error),
) {
	if s.services == nil {
		writeUnavailable(w, "service calls are not configured")
		return
	}
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), serviceCallTimeout)
	defer cancel()

	call, err := issue(ctx, sess)
	switch {
	case err == nil:
		s.record(r, audit.Entry{
			Action:    audit.ActionServiceCall,
			Subject:   audit.SubjectDevice,
			SubjectID: target,
			SessionID: sess.ID(),
			Details:   map[string]any{"method": call.Method, "tid": call.Tid},
		})
		writeJSON(w, http.StatusAccepted, call)
	case errors.Is(err, servicecall.ErrInvalidCall):
		writeBadRequest(w, err.Error())
	case errors.Is(err, bridge.ErrNotConnected):
		writeConflict(w, "session is not connected to a broker")
	case errors.Is(err, bridge.ErrSessionClosed):
		writeNotFound(w, "session not found")
	default:
		s.logger.Warn("service call failed", "session_id", sess.ID(), "error", err)
		writeBrokerError(w, err.Error())
	}
}

// decodeOptionalBody decodes the request body into v when one is present.
// It writes a 400 and returns false on malformed JSON.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeBadRequest(w, "invalid JSON body")
	return false
}

// lookupSession resolves the {id} URL parameter, writing a 404 when unknown.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*bridge.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "session not found")
		return nil, false
	}
	return sess, true
}

// writeSessionError maps errors from session views to HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrSessionClosed), errors.Is(err, bridge.ErrSessionNotFound):
		writeNotFound(w, "session not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeUnavailable(w, "session did not respond")
	default:
		s.logger.Error("session view failed", "error", err)
		writeInternalError(w, "session view failed")
	}
}
