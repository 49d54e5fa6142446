// Package webhooks signs and verifies webhook payloads and delivers security
// alerts to external receivers.
//
// # Signatures
//
// Payloads are signed with HMAC-SHA256 over the raw body and sent as
// "sha256=<hex>" in the X-Murmur-Signature header. Inbound subscription
// callbacks are checked the same way:
//
//	body, _ := io.ReadAll(r.Body)
//	if !webhooks.VerifySignature(body, r.Header.Get(webhooks.SignatureHeader), secret) {
//		// reject
//	}
//
// # Alert notifications
//
// A Notifier is installed as the audit service's alert hook. Every stored
// alert is posted to each configured endpoint in the background:
//
//	notifier := webhooks.NewNotifier([]webhooks.Endpoint{{URL: url, Secret: secret}},
//		webhooks.WithLogger(logger))
//	auditSvc := audit.NewService(store, cfg, audit.WithAlertHook(notifier.NotifyAlert))
//
// # Retry Policy
//
// Exponential backoff: 1s, 2s, 4s, 8s
// Max attempts: 5
// Timeout per attempt: 10s
//
// Each endpoint is rate limited so that an alert storm cannot flood the
// receiver; notifications over the limit are dropped and logged.
package webhooks
