package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/fleet-bridge/internal/servicecall"
)

// handleErrorCodes lists the known device result codes. With ?code=N it
// returns that single entry, 404 when the code is not in the table.
func (s *Server) handleErrorCodes(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("code"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "code must be an integer")
			return
		}
		c, ok := servicecall.LookupErrorCode(code)
		if !ok {
			writeNotFound(w, "unknown error code "+v)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	codes := servicecall.ErrorCodes()
	writeJSON(w, http.StatusOK, map[string]any{"errorCodes": codes, "count": len(codes)})
}
