package httpapi

import (
	"errors"
	"net/http"

	"github.com/pantrylab/pantryd/internal/pantry"
)

// clientCredentials pulls the (workspace, token) pair from headers, falling
// back to query parameters so browser WebSocket clients can authenticate.
func clientCredentials(r *http.Request) (workspaceID, clientToken string) {
	workspaceID = r.Header.Get("X-Workspace-Id")
	if workspaceID == "" {
		workspaceID = r.URL.Query().Get("workspace_id")
	}
	clientToken = r.Header.Get("X-Client-Token")
	if clientToken == "" {
		clientToken = r.URL.Query().Get("client_token")
	}
	return workspaceID, clientToken
}

// authenticate re-proves workspace membership for one request. When the
// route carries a workspace id in its path, the credentials must agree with
// it. On failure the error response has already been written.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, pathWorkspaceID string) (workspaceID, clientToken string, ok bool) {
	workspaceID, clientToken = clientCredentials(r)
	if pathWorkspaceID != "" {
		if workspaceID != "" && workspaceID != pathWorkspaceID {
			writeError(w, http.StatusForbidden, "workspace mismatch")
			return "", "", false
		}
		workspaceID = pathWorkspaceID
	}
	if workspaceID == "" || clientToken == "" {
		writeError(w, http.StatusUnauthorized, "missing workspace id or client token")
		return "", "", false
	}
	if err := s.store.Authorize(workspaceID, clientToken); err != nil {
		s.writeStoreError(w, err)
		return "", "", false
	}
	return workspaceID, clientToken, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, pantry.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, "workspace not found")
	case errors.Is(err, pantry.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, pantry.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, pantry.ErrUnknownStore) || errors.Is(err, pantry.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
