// Package moderation routes content submissions to mandatory, intelligent or
// bypassed moderation and runs the local content-risk checks.
//
// Free users are always moderated. For premium users a local pre-check
// (blocked words and custom regex rules) decides: high-risk content goes to
// intelligent moderation, everything else bypasses it. A failed permission
// lookup is treated as a free user so moderation is never skipped because of
// an infrastructure error.
//
// Rules can be loaded from YAML and hot reloaded:
//
//	blocked_words: [idiota, imbecil]
//	custom_rules:
//	  - pattern: "(bit\\.ly|tinyurl\\.com)/\\S+"
//	    severity: medium
//	    action: review
//	    description: shortened_link
package moderation
