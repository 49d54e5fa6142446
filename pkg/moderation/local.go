package moderation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	patternCacheSize = 256

	categoryBlockedWords = "blocked_words"

	blockedWordConfidence = 0.9
	ruleConfidence        = 0.7
)

// compiled is a cached compilation. A nil re marks a pattern that failed.
type compiled struct {
	re  *regexp.Regexp
	err error
}

// Checker runs the local content-risk checks. Its rule set can be swapped
// at runtime.
type Checker struct {
	mu    sync.RWMutex
	rules RuleSet

	patterns *lru.Cache[string, compiled]
	logger   *logrus.Logger
}

// NewChecker creates a checker over rules
func NewChecker(rules RuleSet, logger *logrus.Logger) *Checker {
	if logger == nil {
		logger = logrus.New()
	}
	patterns, err := lru.New[string, compiled](patternCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Checker{
		rules:    rules.normalized(),
		patterns: patterns,
		logger:   logger,
	}
}

// SetRules replaces the active rule set
func (c *Checker) SetRules(rules RuleSet) {
	c.mu.Lock()
	c.rules = rules.normalized()
	c.mu.Unlock()
}

// Rules returns a copy of the active rule set
func (c *Checker) Rules() RuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return RuleSet{
		BlockedWords: append([]string(nil), c.rules.BlockedWords...),
		CustomRules:  append([]CustomRule(nil), c.rules.CustomRules...),
	}
}

// ScanBlockedWords returns the blocked words contained in content, compared
// case-insensitively as substrings
func (c *Checker) ScanBlockedWords(content string) []string {
	c.mu.RLock()
	words := c.rules.BlockedWords
	c.mu.RUnlock()

	lower := strings.ToLower(content)
	matched := make([]string, 0)
	for _, w := range words {
		if strings.Contains(lower, w) {
			matched = append(matched, w)
		}
	}
	return matched
}

// EvaluateRules returns the custom rules whose pattern matches content and
// the highest severity among them. Invalid patterns are logged and skipped.
func (c *Checker) EvaluateRules(content string) ([]CustomRule, Severity) {
	c.mu.RLock()
	rules := c.rules.CustomRules
	c.mu.RUnlock()

	triggered := make([]CustomRule, 0)
	severity := SeverityNone
	for _, rule := range rules {
		re, err := c.compile(rule.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(content) {
			triggered = append(triggered, rule)
			severity = MaxSeverity(severity, rule.Severity)
		}
	}
	return triggered, severity
}

// Check runs both local checks. Blocked words count as high severity.
func (c *Checker) Check(content string) LocalResult {
	words := c.ScanBlockedWords(content)
	rules, severity := c.EvaluateRules(content)

	result := LocalResult{
		BlockedWords:   words,
		TriggeredRules: rules,
		Severity:       severity,
		Categories:     make([]string, 0),
	}

	if len(words) > 0 {
		result.Severity = SeverityHigh
		result.Categories = append(result.Categories, categoryBlockedWords)
		result.Confidence = blockedWordConfidence
	}
	for _, r := range rules {
		if r.Description != "" {
			result.Categories = appendUnique(result.Categories, r.Description)
		}
	}
	if len(rules) > 0 && result.Confidence == 0 {
		result.Confidence = ruleConfidence
	}

	result.Flagged = len(words) > 0 || len(rules) > 0
	return result
}

func (c *Checker) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := c.patterns.Get(pattern); ok {
		return cached.re, cached.err
	}

	re, err := CompilePattern(pattern)
	if err != nil {
		c.logger.WithError(err).WithField("pattern", pattern).Warn("skipping invalid moderation rule")
	}
	c.patterns.Add(pattern, compiled{re: re, err: err})
	return re, err
}

// CompilePattern compiles a custom rule pattern for case-insensitive matching
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}
