package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/murmur/pkg/permissions"
)

type fakeClassifier struct {
	result *ClassifierResult
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, contentType ContentType, content string) (*ClassifierResult, error) {
	f.calls++
	return f.result, f.err
}

func newTestService(tier permissions.Tier, classifier Classifier) *Service {
	logger, _ := test.NewNullLogger()
	checker := NewChecker(testRules(), logger)
	router := NewRouter(fakeLookup{tier: tier}, checker, logger)
	return NewService(router, checker, classifier, logger)
}

func TestCombine(t *testing.T) {
	local := LocalResult{
		Flagged:    false,
		Severity:   SeverityLow,
		Categories: []string{"contact_sharing"},
		Confidence: 0.7,
	}

	assert.Equal(t, local.Severity, Combine(local, nil).Severity)

	merged := Combine(local, &ClassifierResult{
		Flagged:    true,
		Severity:   SeverityHigh,
		Categories: []string{"harassment", "contact_sharing"},
		Confidence: 0.95,
	})
	assert.True(t, merged.Flagged)
	assert.Equal(t, SeverityHigh, merged.Severity)
	assert.Equal(t, []string{"contact_sharing", "harassment"}, merged.Categories)
	assert.Equal(t, 0.95, merged.Confidence)

	lowConfidence := Combine(LocalResult{Flagged: true, Severity: SeverityMedium, Confidence: 0.9}, &ClassifierResult{Confidence: 0.2})
	assert.True(t, lowConfidence.Flagged)
	assert.Equal(t, SeverityMedium, lowConfidence.Severity)
	assert.Equal(t, 0.9, lowConfidence.Confidence)
	assert.NotNil(t, lowConfidence.Categories)
}

func TestModerate_BypassSkipsClassifier(t *testing.T) {
	classifier := &fakeClassifier{}
	svc := newTestService(permissions.TierPremium, classifier)

	result := svc.Moderate(context.Background(), Request{UserID: "p1", ContentType: ContentText, Content: "bom dia"})
	assert.Equal(t, Bypassed, result.Decision.ModerationType)
	assert.False(t, result.Flagged)
	assert.Zero(t, classifier.calls)
}

func TestModerate_MergesClassifier(t *testing.T) {
	classifier := &fakeClassifier{result: &ClassifierResult{
		Flagged:    true,
		Severity:   SeverityMedium,
		Categories: []string{"harassment"},
		Confidence: 0.6,
	}}
	svc := newTestService(permissions.TierFree, classifier)

	result := svc.Moderate(context.Background(), Request{UserID: "u1", ContentType: ContentText, Content: "que idiota"})
	assert.Equal(t, Mandatory, result.Decision.ModerationType)
	assert.True(t, result.Flagged)
	assert.Equal(t, SeverityHigh, result.Severity)
	assert.Equal(t, []string{categoryBlockedWords, "harassment"}, result.Categories)
	assert.Equal(t, blockedWordConfidence, result.Confidence)
	require.NotNil(t, result.Local)
	assert.Equal(t, []string{"idiota"}, result.Local.BlockedWords)
	assert.Equal(t, 1, classifier.calls)
}

func TestModerate_ClassifierFailureUsesLocalChecks(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("timeout")}
	svc := newTestService(permissions.TierFree, classifier)

	result := svc.Moderate(context.Background(), Request{UserID: "u1", ContentType: ContentText, Content: "free money"})
	assert.True(t, result.Flagged)
	assert.Equal(t, SeverityMedium, result.Severity)
	assert.Equal(t, []string{"spam"}, result.Categories)
}

func TestModerate_NoClassifier(t *testing.T) {
	svc := newTestService(permissions.TierPremium, nil)

	result := svc.Moderate(context.Background(), Request{UserID: "p1", ContentType: ContentText, Content: "I will kill"})
	assert.Equal(t, Intelligent, result.Decision.ModerationType)
	assert.True(t, result.Flagged)
	assert.Equal(t, SeverityHigh, result.Severity)
}
