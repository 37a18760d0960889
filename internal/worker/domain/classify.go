package domain

import (
	"errors"
	"strings"
)

// CategoryFor maps an orchestration error to its recorded error category.
// Typed failures take precedence; free-text agent errors fall through to
// pattern matching.
func CategoryFor(err error) string {
	switch {
	case errors.Is(err, ErrWallClockTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrNoResult), errors.Is(err, ErrArtifactNotFound):
		return CategoryNoResult
	case errors.Is(err, ErrAgentExecution):
		return ClassifyText(err.Error())
	case err == nil:
		return ""
	default:
		return ClassifyText(err.Error())
	}
}

// ClassifyText buckets free-form error text into a known category. The
// agent reports failures as prose, so this is best-effort matching.
func ClassifyText(text string) string {
	t := strings.ToLower(text)

	switch {
	case containsAny(t, "rate limit", "rate-limit", "too many requests", "429"):
		return CategoryRateLimit
	case containsAny(t, "timed out", "timeout", "deadline exceeded"):
		return CategoryTimeout
	case containsAny(t, "blocked", "forbidden", "access denied", "captcha", "403"):
		return CategoryBlocked
	case containsAny(t, "unreachable", "no such host", "connection refused", "could not resolve", "dns"):
		return CategoryUnreachable
	default:
		return CategoryUnknown
	}
}

// CategoryMessage returns the user-facing message for a failure category.
// Raw internal error text stays in the logs.
func CategoryMessage(category string) string {
	switch category {
	case CategoryTimeout:
		return "The research run took longer than expected. Please try again, or contact support if it keeps happening."
	case CategoryRateLimit:
		return "Our research provider is limiting requests right now. Please retry in a few minutes."
	case CategoryUnreachable:
		return "We could not reach the target site. Please check the URL and try again."
	case CategoryBlocked:
		return "The target site blocked automated research access, so we could not complete the playbook."
	case CategoryNoResult:
		return "The research run finished but the playbook could not be delivered. Our team has been notified."
	default:
		return "Something went wrong while generating your playbook. Please contact support."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
