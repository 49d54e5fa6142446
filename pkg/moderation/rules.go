package moderation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// RuleSet is the configurable input of the local checks
type RuleSet struct {
	BlockedWords []string     `yaml:"blocked_words"`
	CustomRules  []CustomRule `yaml:"custom_rules"`
}

// DefaultRuleSet is used when no rules file is configured
func DefaultRuleSet() RuleSet {
	return RuleSet{
		BlockedWords: []string{"idiota", "imbecil", "estúpido", "otário", "cretino"},
		CustomRules: []CustomRule{
			{
				Pattern:     `\b(?:\+?351)?\s?9[1236]\d{7}\b`,
				Severity:    SeverityLow,
				Action:      "flag",
				Description: "contact_sharing",
			},
			{
				Pattern:     `(?:bit\.ly|tinyurl\.com|t\.co)/\S+`,
				Severity:    SeverityMedium,
				Action:      "review",
				Description: "shortened_link",
			},
			{
				Pattern:     `\b(?:mata-te|vou-te matar)\b`,
				Severity:    SeverityHigh,
				Action:      "block",
				Description: "threat",
			},
		},
	}
}

// normalized lower-cases and de-duplicates blocked words and drops empty ones
func (rs RuleSet) normalized() RuleSet {
	words := make([]string, 0, len(rs.BlockedWords))
	for _, w := range rs.BlockedWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			words = appendUnique(words, w)
		}
	}
	return RuleSet{
		BlockedWords: words,
		CustomRules:  append([]CustomRule(nil), rs.CustomRules...),
	}
}

// Validate checks rule severities. Patterns are not checked here: an invalid
// pattern is skipped at evaluation time.
func (rs RuleSet) Validate() error {
	for i, r := range rs.CustomRules {
		if r.Pattern == "" {
			return fmt.Errorf("custom rule %d: pattern is required", i)
		}
		if !r.Severity.Valid() {
			return fmt.Errorf("custom rule %d: invalid severity %q", i, r.Severity)
		}
	}
	return nil
}

// LoadRuleSet reads a YAML rules file
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, err
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rs, nil
}

// WatchRules reloads the rules file into checker whenever it changes, until
// ctx is cancelled. The parent directory is watched so that editors that
// replace the file on save are picked up. A file that fails to load leaves
// the previous rules active.
func WatchRules(ctx context.Context, path string, checker *Checker, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := logger.WithField("rules_file", abs)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				rs, err := LoadRuleSet(abs)
				if err != nil {
					log.WithError(err).Warn("keeping previous moderation rules")
					continue
				}
				checker.SetRules(rs)
				log.WithFields(logrus.Fields{
					"blocked_words": len(rs.BlockedWords),
					"custom_rules":  len(rs.CustomRules),
				}).Info("moderation rules reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("rules watcher error")
			}
		}
	}()
	return nil
}
