package moderation

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/observability"
)

// Classifier is an external content classifier
type Classifier interface {
	Classify(ctx context.Context, contentType ContentType, content string) (*ClassifierResult, error)
}

// Service runs a full moderation pass: routing, then local checks merged
// with the classifier for submissions that are moderated
type Service struct {
	router     *Router
	checker    *Checker
	classifier Classifier
	logger     *logrus.Logger
}

// NewService creates a moderation service. classifier may be nil, in which
// case only the local checks run.
func NewService(router *Router, checker *Checker, classifier Classifier, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		router:     router,
		checker:    checker,
		classifier: classifier,
		logger:     logger,
	}
}

// Router returns the routing component
func (s *Service) Router() *Router {
	return s.router
}

// Moderate routes req and, when moderation applies, evaluates the content.
// A classifier failure is logged and the local findings are used alone.
func (s *Service) Moderate(ctx context.Context, req Request) Result {
	decision := s.router.ShouldModerateContent(ctx, req)
	if !decision.ShouldModerate {
		return Result{
			Decision:   decision,
			Severity:   decision.Severity,
			Categories: decision.Categories,
			Confidence: decision.Confidence,
		}
	}

	local := s.checker.Check(req.Content)

	var verdict *ClassifierResult
	if s.classifier != nil && req.Content != "" {
		var err error
		verdict, err = s.classifier.Classify(ctx, req.ContentType, req.Content)
		if err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).WithField("user_id", req.UserID).
				Warn("content classifier failed, using local checks only")
			verdict = nil
		}
	}

	result := Combine(local, verdict)
	result.Decision = decision
	return result
}
