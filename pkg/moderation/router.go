package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/observability"
	"github.com/platinummonkey/murmur/pkg/permissions"
)

const (
	reasonMandatory   = "Moderação obrigatória para utilizadores gratuitos"
	reasonHighRisk    = "Conteúdo de risco elevado requer moderação"
	reasonLowRisk     = "Conteúdo de baixo risco"
	reasonLookupError = "Erro ao verificar permissões de moderação"

	bypassEmpty   = "Conteúdo vazio não requer moderação"
	bypassLowRisk = "Utilizador premium com conteúdo de baixo risco"

	mandatoryConfidence = 1.0
	lowRiskConfidence   = 0.8
)

// PermissionLookup loads a user's permissions and reports failures
type PermissionLookup interface {
	LoadUserPermissions(ctx context.Context, userID string) (permissions.UserPermissions, error)
}

// Router decides whether a submission is moderated
type Router struct {
	perms   PermissionLookup
	checker *Checker
	now     func() time.Time
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRouterClock overrides the time source
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithRouterMetrics sets the router metrics
func WithRouterMetrics(metrics *observability.Metrics) RouterOption {
	return func(r *Router) { r.metrics = metrics }
}

// NewRouter creates a moderation router
func NewRouter(perms PermissionLookup, checker *Checker, logger *logrus.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Router{
		perms:   perms,
		checker: checker,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ShouldModerateContent routes a submission. Free users are always
// moderated. Premium users are moderated only when the local pre-check finds
// high-risk content. If the permission lookup fails the submission is
// treated as coming from a free user.
func (r *Router) ShouldModerateContent(ctx context.Context, req Request) Decision {
	var decision Decision

	perms, err := r.perms.LoadUserPermissions(ctx, req.UserID)
	switch {
	case err != nil:
		permissions.RestrictiveDefault.Record(r.log(ctx).WithField("user_id", req.UserID), r.metrics, "should_moderate_content", err)
		decision = r.mandatory(reasonLookupError)
	case perms.RequiresMandatoryModeration:
		decision = r.mandatory(reasonMandatory)
	default:
		decision = r.premium(req.Content)
	}

	decision.Timestamp = r.now()
	r.record(ctx, req, decision)
	return decision
}

func (r *Router) mandatory(reason string) Decision {
	return Decision{
		ShouldModerate: true,
		ModerationType: Mandatory,
		UserType:       permissions.TierFree.String(),
		Categories:     []string{},
		Reason:         reason,
		Confidence:     mandatoryConfidence,
	}
}

func (r *Router) premium(content string) Decision {
	decision := Decision{
		UserType:   permissions.TierPremium.String(),
		Categories: []string{},
	}

	if strings.TrimSpace(content) == "" {
		decision.ModerationType = Bypassed
		decision.Reason = reasonLowRisk
		decision.BypassReason = bypassEmpty
		decision.Confidence = mandatoryConfidence
		return decision
	}

	local := r.checker.Check(content)
	decision.Severity = local.Severity
	decision.Categories = local.Categories

	if local.HighRisk() {
		decision.ShouldModerate = true
		decision.ModerationType = Intelligent
		decision.Reason = reasonHighRisk
		decision.Confidence = local.Confidence
		return decision
	}

	decision.ModerationType = Bypassed
	decision.Reason = reasonLowRisk
	decision.BypassReason = bypassLowRisk
	decision.Confidence = lowRiskConfidence
	return decision
}

func (r *Router) record(ctx context.Context, req Request, d Decision) {
	r.log(ctx).WithFields(logrus.Fields{
		"user_id":         req.UserID,
		"user_type":       d.UserType,
		"content_type":    req.ContentType,
		"content_length":  len([]rune(req.Content)),
		"moderation_type": d.ModerationType,
		"should_moderate": d.ShouldModerate,
		"categories":      d.Categories,
		"confidence":      d.Confidence,
		"timestamp":       d.Timestamp.Format(time.RFC3339Nano),
	}).Info("moderation decision")
	r.metrics.ObserveModeration(string(d.ModerationType), d.UserType)
}

func (r *Router) log(ctx context.Context) *logrus.Entry {
	return observability.WithTraceContext(ctx, observability.FromContext(ctx, r.logger))
}
