package moderation

import (
	"errors"
	"time"
)

// ErrInvalidPattern wraps custom rule patterns that fail to compile
var ErrInvalidPattern = errors.New("invalid moderation pattern")

// ContentType is the kind of submission being moderated
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentAudio ContentType = "audio"
)

// Valid reports whether t is a known content type
func (t ContentType) Valid() bool {
	return t == ContentText || t == ContentAudio
}

// ModerationType is the routing outcome
type ModerationType string

const (
	Mandatory   ModerationType = "mandatory"
	Intelligent ModerationType = "intelligent"
	Bypassed    ModerationType = "bypassed"
)

// Severity ranks moderation findings. The zero value means no finding.
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Valid reports whether s is low, medium or high
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// MaxSeverity returns the higher of a and b
func MaxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// CustomRule flags content matching Pattern, a regular expression evaluated
// case-insensitively
type CustomRule struct {
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Action      string   `yaml:"action" json:"action"`
	Description string   `yaml:"description" json:"description"`
}

// Request is one content submission
type Request struct {
	UserID      string            `json:"userId"`
	ContentType ContentType       `json:"contentType"`
	Content     string            `json:"content"`
	Context     map[string]string `json:"context,omitempty"`
}

// Decision is the routing verdict for a submission. It is logged, not stored.
type Decision struct {
	ShouldModerate bool           `json:"shouldModerate"`
	ModerationType ModerationType `json:"moderationType"`
	UserType       string         `json:"userType"`
	Severity       Severity       `json:"severity,omitempty"`
	Categories     []string       `json:"categories"`
	Reason         string         `json:"reason"`
	Confidence     float64        `json:"confidence"`
	BypassReason   string         `json:"bypassReason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// LocalResult holds the findings of the blocked-word scan and custom rules
type LocalResult struct {
	Flagged        bool         `json:"flagged"`
	BlockedWords   []string     `json:"blockedWords"`
	TriggeredRules []CustomRule `json:"triggeredRules"`
	Severity       Severity     `json:"severity,omitempty"`
	Categories     []string     `json:"categories"`
	Confidence     float64      `json:"confidence"`
}

// HighRisk reports whether the findings warrant moderating premium content
func (r LocalResult) HighRisk() bool {
	return len(r.BlockedWords) > 0 || r.Severity == SeverityHigh
}

// ClassifierResult is the verdict of an external classifier
type ClassifierResult struct {
	Flagged    bool     `json:"flagged"`
	Severity   Severity `json:"severity,omitempty"`
	Categories []string `json:"categories"`
	Confidence float64  `json:"confidence"`
}

// Result is the outcome of a full moderation pass
type Result struct {
	Decision   Decision     `json:"decision"`
	Flagged    bool         `json:"flagged"`
	Severity   Severity     `json:"severity,omitempty"`
	Categories []string     `json:"categories"`
	Confidence float64      `json:"confidence"`
	Local      *LocalResult `json:"local,omitempty"`
}
