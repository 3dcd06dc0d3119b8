package agentstate

import "strings"

// classifyRule pairs an ErrorCategory with the substrings (checked
// case-insensitively) that indicate it, in the priority order from spec
// §4.12's table.
var classifyRules = []struct {
	category ErrorCategory
	patterns []string
}{
	{ErrUnauthorized, []string{"authentication_error", "invalid api key", "permission_error"}},
	{ErrOutOfCredits, []string{"billing", "insufficient_credits", "payment_required"}},
	{ErrRateLimited, []string{"rate_limit_error", "too many requests", "429"}},
	{ErrNoInternet, []string{"connection refused", "dns", "timeout", "econnrefused"}},
	{ErrServerError, []string{"api_error", "overloaded", "500", "502", "503"}},
}

// ClassifyError maps a raw Error.detail string to an ErrorCategory using
// the case-insensitive substring table from spec §4.12.
func ClassifyError(detail string) ErrorCategory {
	lower := strings.ToLower(detail)
	for _, rule := range classifyRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(lower, pattern) {
				return rule.category
			}
		}
	}
	return ErrOther
}
