// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads every setting from the environment, applies defaults and
// validates the result.
//
// Server settings:
//
//	MURMUR_HOST="0.0.0.0"
//	MURMUR_PORT="8080"
//	MURMUR_HEALTH_PORT="9090"
//
// Storage:
//
//	MURMUR_DATABASE_URL="postgres://localhost/murmur?sslmode=disable"
//	MURMUR_REDIS_URL="redis://localhost:6379/0"   # optional shared premium cache
//
// Permission cache:
//
//	MURMUR_PERMISSION_CACHE_TTL="5m"
//	MURMUR_PREMIUM_STATUS_CACHE_TTL="10m"
//	MURMUR_CACHE_SWEEP_SCHEDULE="@every 2m"
//
// Audit and security alerts:
//
//	MURMUR_AUDIT_WINDOW="1h"
//	MURMUR_AUDIT_DENIAL_THRESHOLD="10"
//	MURMUR_AUDIT_PREMIUM_PROBE_THRESHOLD="5"
//	MURMUR_AUDIT_FALLBACK_CAPACITY="1000"
//	MURMUR_AUDIT_RETENTION_DAYS="90"           # 0 disables cleanup
//	MURMUR_AUDIT_RETENTION_SCHEDULE="@daily"
//
// Moderation and auth:
//
//	MURMUR_MODERATION_RULES_FILE="/etc/murmur/moderation.yaml"
//	MURMUR_OIDC_ISSUER="https://auth.example.com"
//	MURMUR_OIDC_CLIENT_ID="murmur"
//	MURMUR_ALLOW_HEADER_AUTH="false"          # dev only: trust X-User-ID without OIDC
//	MURMUR_ADMIN_USER_IDS="uuid-1,uuid-2"
//
// Observability:
//
//	MURMUR_LOG_LEVEL="info"
//	MURMUR_METRICS_ENABLED="true"
//	MURMUR_OTEL_ENABLED="false"
//	MURMUR_OTEL_ENDPOINT="localhost:4317"
package config
