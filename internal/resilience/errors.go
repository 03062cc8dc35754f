package resilience

import (
	"fmt"
	"strings"
	"time"
)

// Kind categorizes a failure from an AI provider call or its surrounding
// machinery. The set is closed; Classify maps arbitrary errors onto it.
type Kind string

const (
	KindProvider   Kind = "provider"
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindRateLimit  Kind = "rate_limit"
	KindQuota      Kind = "quota"
	KindNetwork    Kind = "network"
	KindParsing    Kind = "parsing"
	KindInternal   Kind = "internal"
)

// retryable is the fixed set of kinds worth retrying with backoff.
var retryable = map[Kind]bool{
	KindProvider:  true,
	KindTimeout:   true,
	KindNetwork:   true,
	KindRateLimit: true,
	KindParsing:   true,
}

// Retryable reports whether failures of this kind are worth retrying.
func (k Kind) Retryable() bool {
	return retryable[k]
}

// Error is a classified failure. It wraps the original error so callers can
// still use errors.Is/As on the cause.
type Error struct {
	Kind       Kind
	Message    string
	Retryable  bool
	Suggestion string
	Timestamp  time.Time
	cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Classify maps an arbitrary error onto the failure taxonomy by matching
// substrings of its message, case-insensitively. Already-classified errors
// pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}

	msg := strings.ToLower(err.Error())
	kind := KindInternal
	switch {
	case strings.Contains(msg, "rate limit"):
		kind = KindRateLimit
	case strings.Contains(msg, "quota"):
		kind = KindQuota
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		kind = KindTimeout
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		kind = KindNetwork
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		kind = KindValidation
	case strings.Contains(msg, "parsing") || strings.Contains(msg, "json"):
		kind = KindParsing
	case strings.Contains(msg, "5xx") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "provider"):
		kind = KindProvider
	}

	return &Error{
		Kind:       kind,
		Message:    err.Error(),
		Retryable:  kind.Retryable(),
		Suggestion: UserMessage(kind),
		Timestamp:  time.Now(),
		cause:      err,
	}
}

// UserMessage returns the fixed user-facing remediation hint for a kind.
func UserMessage(kind Kind) string {
	switch kind {
	case KindRateLimit:
		return "wait and retry"
	case KindQuota:
		return "contact administrator"
	case KindTimeout:
		return "the request took too long; retry or simplify the prompt"
	case KindNetwork:
		return "check network connectivity and retry"
	case KindValidation:
		return "fix the request parameters"
	case KindParsing:
		return "the response could not be parsed; retry"
	case KindProvider:
		return "the provider is degraded; retry or switch providers"
	default:
		return "retry; report if the problem persists"
	}
}
