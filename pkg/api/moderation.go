package api

import (
	"net/http"

	"github.com/platinummonkey/murmur/pkg/httputil"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/moderation"
)

// ModerationCheckRequest is the body of POST /api/moderation/check
type ModerationCheckRequest struct {
	ContentType moderation.ContentType `json:"contentType"`
	Content     string                 `json:"content"`
	Context     map[string]string      `json:"context,omitempty"`
}

// checkModeration handles POST /api/moderation/check. The caller is always
// the content author.
func (s *Server) checkModeration(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	var req ModerationCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}
	if req.ContentType == "" {
		req.ContentType = moderation.ContentText
	}
	if !req.ContentType.Valid() {
		httputil.WriteBadRequest(w, "contentType must be text or audio")
		return nil
	}

	result := s.deps.Moderation.Moderate(r.Context(), moderation.Request{
		UserID:      pc.UserID(),
		ContentType: req.ContentType,
		Content:     req.Content,
		Context:     req.Context,
	})
	return httputil.WriteSuccess(w, result)
}
