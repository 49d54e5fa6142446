package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DetectorConfig holds the suspicious-activity thresholds
type DetectorConfig struct {
	Window                time.Duration
	DenialThreshold       int
	PremiumProbeThreshold int
}

// DefaultDetectorConfig returns the stock thresholds: ten denials or five
// premium-content probes within one hour
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:                time.Hour,
		DenialThreshold:       10,
		PremiumProbeThreshold: 5,
	}
}

const (
	bypassKeyword  = "bypass"
	premiumKeyword = "premium"
	postResource   = "post"
)

// Detector derives security alerts from a user's recent denials. The three
// rules are independent, so one entry can raise several alerts.
type Detector struct {
	store Store
	cfg   DetectorConfig
}

// NewDetector creates a detector. Zero config fields fall back to the defaults.
func NewDetector(store Store, cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.DenialThreshold <= 0 {
		cfg.DenialThreshold = def.DenialThreshold
	}
	if cfg.PremiumProbeThreshold <= 0 {
		cfg.PremiumProbeThreshold = def.PremiumProbeThreshold
	}
	return &Detector{store: store, cfg: cfg}
}

// Evaluate inspects a just-persisted entry and returns the alerts it
// raises. Allowed entries and entries without a user raise nothing.
func (d *Detector) Evaluate(ctx context.Context, entry *AuditLogEntry, now time.Time) ([]*SecurityAlert, error) {
	if entry.Allowed || entry.UserID == "" {
		return nil, nil
	}

	since := now.Add(-d.cfg.Window)
	var alerts []*SecurityAlert

	denials, err := d.store.CountDenials(ctx, DenialQuery{UserID: entry.UserID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("failed to count denials: %w", err)
	}
	if denials >= d.cfg.DenialThreshold {
		alerts = append(alerts, &SecurityAlert{
			UserID:      entry.UserID,
			AlertType:   AlertSuspiciousActivity,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%d tentativas de acesso negadas na última hora", denials),
			Metadata: map[string]interface{}{
				"denied_attempts": denials,
				"window_seconds":  int(d.cfg.Window.Seconds()),
				"last_action":     entry.Action,
				"last_resource":   entry.Resource,
			},
		})
	}

	if strings.Contains(strings.ToLower(entry.Reason), bypassKeyword) {
		alerts = append(alerts, &SecurityAlert{
			UserID:      entry.UserID,
			AlertType:   AlertPermissionBypassAttempt,
			Severity:    SeverityHigh,
			Description: "Possível tentativa de contornar permissões",
			Metadata: map[string]interface{}{
				"reason":      entry.Reason,
				"action":      entry.Action,
				"resource":    entry.Resource,
				"resource_id": entry.ResourceID,
			},
		})
	}

	if entry.Resource == postResource && strings.Contains(strings.ToLower(entry.Reason), premiumKeyword) {
		probes, err := d.store.CountDenials(ctx, DenialQuery{
			UserID:         entry.UserID,
			Since:          since,
			Resource:       postResource,
			ReasonContains: premiumKeyword,
		})
		if err != nil {
			return alerts, fmt.Errorf("failed to count premium probes: %w", err)
		}
		if probes >= d.cfg.PremiumProbeThreshold {
			alerts = append(alerts, &SecurityAlert{
				UserID:      entry.UserID,
				AlertType:   AlertUnusualPattern,
				Severity:    SeverityLow,
				Description: "Tentativas repetidas de acesso a conteúdo premium",
				Metadata: map[string]interface{}{
					"premium_attempts":       probes,
					"suggest_upgrade_prompt": true,
				},
			})
		}
	}

	return alerts, nil
}
