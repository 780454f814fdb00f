package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"webui/cmd/internal/execute"
	"webui/cmd/internal/session"
	"webui/cmd/internal/workspace"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

type sessionResponse struct {
	User string `json:"user"`
	// TTL is the expiry as fractional Unix seconds.
	TTL float64 `json:"ttl"`
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{User: issued.User, TTL: session.UnixSeconds(issued.Expires)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// denials maps each workspace reason to its stable client code.
var denials = []struct {
	reason error
	code   string
}{
	{workspace.ErrNotReady, "not_ready"},
	{workspace.ErrPermissionDenied, "permission_denied"},
	{workspace.ErrNotFound, "not_found"},
	{workspace.ErrExists, "exists"},
	{workspace.ErrTooLarge, "too_large"},
	{workspace.ErrRemote, "remote_failure"},
}

// writeFailure maps an operation error to a response. Details stay in the log.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		denied *workspace.DeniedError
		cmdErr *execute.Error
	)
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusForbidden, "session_closed", "session closed")
	case errors.As(err, &denied):
		h.log.Info("api."+op+".denied", "err", err, "path", r.URL.Path)
		for _, d := range denials {
			if errors.Is(denied.Reason, d.reason) {
				writeError(w, http.StatusForbidden, d.code, d.reason.Error())
				return
			}
		}
		writeError(w, http.StatusForbidden, "denied", "access denied")
	case errors.Is(err, workspace.ErrInvalidArgument), errors.Is(err, workspace.ErrInvalidManifest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &cmdErr):
		h.log.Error("api."+op+".command.fail", "err", err, "status", cmdErr.Status)
		writeError(w, http.StatusInternalServerError, "command_failed", "command failed")
	default:
		h.log.Error("api."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
