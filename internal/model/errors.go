package model

import "errors"

var (
	ErrConfiguration          = errors.New("destination misconfigured")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrTransport              = errors.New("transport error")
	ErrRejectedByDestination  = errors.New("rejected by destination")
	ErrExhausted              = errors.New("retry budget exhausted")
	ErrUnsupportedIntegration = errors.New("unsupported integration type")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateAttempt       = errors.New("attempt already claimed")
)

// Err maps a failure kind onto the sentinel error callers match with errors.Is.
func (k FailureKind) Err() error {
	switch k {
	case FailureNone:
		return nil
	case FailureConfigInvalid:
		return ErrConfiguration
	case FailureRateLimited:
		return ErrRateLimitExceeded
	case FailureTimeout, FailureNetwork, FailureHTTP5xx:
		return ErrTransport
	default:
		return ErrRejectedByDestination
	}
}

// Retryable reports whether a failure of this kind may be retried after a
// backoff. Rate-limited attempts are rescheduled for the window reset instead.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureNetwork, FailureHTTP5xx:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status code onto a failure kind. 429 counts as
// a server-side condition and is retried.
func ClassifyStatus(code int) FailureKind {
	switch {
	case code >= 200 && code < 300:
		return FailureNone
	case code == 429 || code >= 500:
		return FailureHTTP5xx
	default:
		return FailureHTTP4xx
	}
}
