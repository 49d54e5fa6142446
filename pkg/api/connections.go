package api

import (
	"net/http"

	"github.com/platinummonkey/murmur/pkg/httputil"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/permissions"
)

// ConnectionRequest is the body of POST /api/connections/request
type ConnectionRequest struct {
	TargetUserID string `json:"targetUserId"`
}

// ConnectionResponse is the body of POST /api/connections/respond
type ConnectionResponse struct {
	RequesterID string `json:"requesterId"`
	Action      string `json:"action"`
}

// ConnectionResult echoes an accepted connection operation
type ConnectionResult struct {
	Status      string `json:"status"`
	RequesterID string `json:"requesterId"`
	TargetID    string `json:"targetUserId"`
	Action      string `json:"action,omitempty"`
}

// requestConnection handles POST /api/connections/request
func (s *Server) requestConnection(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	var req ConnectionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if !httputil.RequireNonEmpty(w, req.TargetUserID, "targetUserId") {
		return nil
	}
	if req.TargetUserID == pc.UserID() {
		httputil.WriteBadRequest(w, "cannot connect to yourself")
		return nil
	}

	return httputil.WriteJSON(w, http.StatusAccepted, ConnectionResult{
		Status:      string(permissions.ConnectionPending),
		RequesterID: pc.UserID(),
		TargetID:    req.TargetUserID,
		Action:      permissions.ActionRequest,
	})
}

// respondConnection handles POST /api/connections/respond
func (s *Server) respondConnection(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	var req ConnectionResponse
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if !httputil.RequireNonEmpty(w, req.RequesterID, "requesterId") {
		return nil
	}
	if req.Action != permissions.ActionAccept && req.Action != permissions.ActionDecline {
		middleware.WriteDenial(w, http.StatusBadRequest, middleware.CodeConnectionResponseDenied, permissions.ReasonActionNotRecognized, false)
		return nil
	}

	result := s.deps.Connections.CheckConnectionAction(r.Context(), pc.UserID(), req.Action)
	if !result.Allowed {
		middleware.WriteDenial(w, http.StatusForbidden, middleware.CodeConnectionResponseDenied, result.Reason, result.UpgradePrompt)
		return nil
	}

	status := string(permissions.ConnectionAccepted)
	if req.Action == permissions.ActionDecline {
		status = string(permissions.ConnectionNone)
	}
	return httputil.WriteSuccess(w, ConnectionResult{
		Status:      status,
		RequesterID: req.RequesterID,
		TargetID:    pc.UserID(),
		Action:      req.Action,
	})
}

// connectionActions handles GET /api/connections/actions?status=&isRequester=
func (s *Server) connectionActions(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	status := permissions.ConnectionStatus(httputil.ParseQueryString(r, "status", string(permissions.ConnectionNone)))
	switch status {
	case permissions.ConnectionNone, permissions.ConnectionPending, permissions.ConnectionAccepted:
	default:
		httputil.WriteBadRequest(w, "status must be none, pending or accepted")
		return nil
	}

	isRequester, err := httputil.ParseQueryBool(r, "isRequester")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	actions := s.deps.Connections.AvailableActions(r.Context(), pc.UserID(), status, isRequester != nil && *isRequester)
	return httputil.WriteSuccess(w, map[string]interface{}{"actions": actions})
}
