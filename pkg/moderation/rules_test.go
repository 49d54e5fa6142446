package moderation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `
blocked_words:
  - Palerma
custom_rules:
  - pattern: "compra\\s+seguidores"
    severity: medium
    action: review
    description: spam
`

func writeRules(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadRuleSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, rulesYAML)

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Palerma"}, rs.BlockedWords)
	require.Len(t, rs.CustomRules, 1)
	assert.Equal(t, SeverityMedium, rs.CustomRules[0].Severity)
	assert.Equal(t, "spam", rs.CustomRules[0].Description)

	c := NewChecker(rs, nil)
	assert.Equal(t, []string{"palerma"}, c.ScanBlockedWords("és um PALERMA"))
	assert.True(t, c.Check("Compra   seguidores aqui").Flagged)
}

func TestLoadRuleSet_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRuleSet(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeRules(t, bad, "custom_rules: [")
	_, err = LoadRuleSet(bad)
	assert.ErrorContains(t, err, "failed to parse rules file")

	invalid := filepath.Join(dir, "invalid.yaml")
	writeRules(t, invalid, "custom_rules:\n  - pattern: x\n    severity: extreme\n")
	_, err = LoadRuleSet(invalid)
	assert.ErrorContains(t, err, "invalid severity")
}

func TestRuleSetValidate(t *testing.T) {
	assert.NoError(t, DefaultRuleSet().Validate())
	assert.NoError(t, RuleSet{}.Validate())
	assert.ErrorContains(t, RuleSet{CustomRules: []CustomRule{{Severity: SeverityLow}}}.Validate(), "pattern is required")
	assert.ErrorContains(t, RuleSet{CustomRules: []CustomRule{{Pattern: "x"}}}.Validate(), "invalid severity")
}

func TestDefaultRuleSet(t *testing.T) {
	c := NewChecker(DefaultRuleSet(), nil)

	assert.True(t, c.Check("que idiota").HighRisk())
	assert.Equal(t, []string{"shortened_link"}, c.Check("vê isto bit.ly/abc123").Categories)
	assert.Equal(t, []string{"contact_sharing"}, c.Check("liga-me 912345678").Categories)
	assert.False(t, c.Check("bom dia a todos").Flagged)
}

func TestWatchRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "blocked_words: [alpha]\n")

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	c := NewChecker(rs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchRules(ctx, path, c, logger))

	assert.True(t, c.Check("alpha").Flagged)
	assert.False(t, c.Check("beta").Flagged)

	writeRules(t, path, "blocked_words: [beta]\n")
	require.Eventually(t, func() bool {
		return c.Check("beta").Flagged
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, c.Check("alpha").Flagged)

	// A broken file keeps the previous rules
	writeRules(t, path, "custom_rules:\n  - pattern: x\n    severity: nope\n")
	time.Sleep(100 * time.Millisecond)
	assert.True(t, c.Check("beta").Flagged)
}

func TestWatchRules_MissingDirectory(t *testing.T) {
	err := WatchRules(context.Background(), filepath.Join(t.TempDir(), "nope", "rules.yaml"), NewChecker(RuleSet{}, nil), nil)
	assert.Error(t, err)
}
