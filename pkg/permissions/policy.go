package permissions

import (
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/observability"
)

// FallbackPolicy names how a call site degrades when its data source fails.
//
// PermissiveDefault lets the request continue with least-privilege data (the
// free bundle). RestrictiveDefault stops with an explicit denial, for checks
// guarding irreversible outcomes such as exposing premium content or skipping
// moderation.
type FallbackPolicy string

const (
	PermissiveDefault  FallbackPolicy = "permissive_default"
	RestrictiveDefault FallbackPolicy = "restrictive_default"
)

// Record logs err under the policy and counts the fallback
func (p FallbackPolicy) Record(entry *logrus.Entry, metrics *observability.Metrics, operation string, err error) {
	entry.WithError(err).WithFields(logrus.Fields{
		"policy":    string(p),
		"operation": operation,
	}).Warn("falling back after permission lookup failure")
	metrics.ObserveFallback(string(p), operation)
}
