package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/platinummonkey/murmur/pkg/httputil"
	"github.com/platinummonkey/murmur/pkg/observability"
	"github.com/platinummonkey/murmur/pkg/permissions"
	"github.com/platinummonkey/murmur/pkg/webhooks"
)

// subscriptionWebhook handles POST /api/webhooks/subscription. When a secret
// is configured the body must carry a valid X-Murmur-Signature. A
// subscription change only invalidates cached permissions; the profile store
// stays the source of truth.
func (s *Server) subscriptionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes+1))
	if err != nil || len(body) > httputil.MaxBodyBytes {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	if s.deps.WebhookSecret != "" && !webhooks.VerifySignature(body, r.Header.Get(webhooks.SignatureHeader), s.deps.WebhookSecret) {
		observability.FromContext(r.Context(), s.deps.Logger).Warn("subscription webhook with invalid signature")
		httputil.WriteUnauthorized(w, "invalid webhook signature")
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	var event permissions.SubscriptionEvent
	if !httputil.ParseJSONOrError(w, r, &event) {
		return
	}

	if err := s.deps.Permissions.HandleSubscriptionEvent(r.Context(), event); err != nil {
		observability.FromContext(r.Context(), s.deps.Logger).WithError(err).Warn("rejected subscription event")
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteNoContent(w)
}
