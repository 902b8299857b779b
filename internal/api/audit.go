package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/audit"
)

// auditChanSize is the buffer of pending audit entries. Entries beyond it
// are dropped.
const auditChanSize = 256

// record enqueues an audit entry for the background writer. The actor is
// the token subject, empty when auth is disabled.
func (s *Server) record(r *http.Request, e audit.Entry) {
	if s.auditCh == nil {
		return
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.Actor = claims.Subject
	}
	e.CreatedAt = time.Now().UTC()

	select {
	case s.auditCh <- &e:
	default:
		s.logger.Warn("audit queue full, dropping entry",
			"action", e.Action,
			"subject", e.Subject,
		)
	}
}

// drainAudit writes queued entries one at a time until ctx is cancelled,
// then flushes whatever is still queued.
func (s *Server) drainAudit(ctx context.Context) {
	write := func(e *audit.Entry) {
		if err := s.audit.Create(context.Background(), e); err != nil {
			s.logger.Error("audit write failed",
				"action", e.Action,
				"subject", e.Subject,
				"error", err,
			)
		}
	}

	for {
		select {
		case e := <-s.auditCh:
			write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.auditCh:
					write(e)
				default:
					return
				}
			}
		}
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, subject, subject_id, session_id, since
// (RFC 3339), limit (default 50, max 200) and offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action:    q.Get("action"),
		Subject:   q.Get("subject"),
		SubjectID: q.Get("subject_id"),
		SessionID: q.Get("session_id"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
