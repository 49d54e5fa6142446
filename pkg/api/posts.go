package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/murmur/pkg/httputil"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/moderation"
	"github.com/platinummonkey/murmur/pkg/permissions"
)

// Reflection publication states
const (
	ReflectionPublished     = "published"
	ReflectionPendingReview = "pending_review"
)

// PostResponse is returned by GET /api/posts/{postID}
type PostResponse struct {
	Post       *permissions.Post        `json:"post"`
	Access     permissions.AccessResult `json:"access"`
	Reflection permissions.AccessResult `json:"reflection"`
}

// CreateReflectionRequest is the body of POST /api/posts/{postID}/reflections
type CreateReflectionRequest struct {
	ContentType moderation.ContentType `json:"contentType"`
	Content     string                 `json:"content"`
}

// ReflectionResponse reports how a submitted reflection was handled
type ReflectionResponse struct {
	PostID     string            `json:"postId"`
	AuthorID   string            `json:"authorId"`
	Status     string            `json:"status"`
	Moderation moderation.Result `json:"moderation"`
}

// FilterPostsRequest is the body of POST /api/posts/accessible
type FilterPostsRequest struct {
	Posts []permissions.Post `json:"posts"`
}

// FilterPostsResponse lists the visible posts and their reflection eligibility
type FilterPostsResponse struct {
	Posts       []permissions.Post `json:"posts"`
	Reflectable map[string]bool    `json:"reflectable"`
}

// getPost handles GET /api/posts/{postID}
func (s *Server) getPost(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	post, err := s.deps.Permissions.Posts().GetPost(r.Context(), pc.PostID)
	if err != nil {
		return err
	}
	return httputil.WriteSuccess(w, PostResponse{
		Post:       post,
		Access:     pc.PostAccess,
		Reflection: pc.Reflection,
	})
}

// createReflection handles POST /api/posts/{postID}/reflections. The
// reflection is routed through moderation; flagged content is held for
// review.
func (s *Server) createReflection(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	var req CreateReflectionRequest
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
	if !httputil.RequireNonEmpty(w, req.Content, "content") {
		return nil
	}

	result := s.deps.Moderation.Moderate(r.Context(), moderation.Request{
		UserID:      pc.UserID(),
		ContentType: req.ContentType,
		Content:     req.Content,
		Context:     map[string]string{"post_id": pc.PostID},
	})

	status := ReflectionPublished
	if result.Flagged {
		status = ReflectionPendingReview
	}
	return httputil.WriteJSON(w, http.StatusCreated, ReflectionResponse{
		PostID:     pc.PostID,
		AuthorID:   pc.UserID(),
		Status:     status,
		Moderation: result,
	})
}

// reflectionRestrictions handles GET /api/posts/{postID}/reflection-restrictions
func (s *Server) reflectionRestrictions(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	postID := mux.Vars(r)["postID"]
	info, err := s.deps.Reflections.GetReflectionRestrictionInfo(r.Context(), pc.UserID(), postID)
	if errors.Is(err, permissions.ErrPostNotFound) {
		httputil.WriteNotFound(w, permissions.ReasonPostNotFound)
		return nil
	}
	if err != nil {
		return err
	}
	return httputil.WriteSuccess(w, info)
}

// filterPosts handles POST /api/posts/accessible
func (s *Server) filterPosts(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	var req FilterPostsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil
	}

	visible := s.deps.PostFilter.FilterAccessible(r.Context(), pc.UserID(), req.Posts)
	return httputil.WriteSuccess(w, FilterPostsResponse{
		Posts:       visible,
		Reflectable: s.deps.PostFilter.ReflectablePosts(r.Context(), pc.UserID(), visible),
	})
}
