package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a sync failure for retry and user-notification decisions.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindAuth        Kind = "auth"
	KindServer      Kind = "server"
	KindClient      Kind = "client"
	KindConflict    Kind = "conflict"
	KindQueueFull   Kind = "queue_full"
	KindInvalidData Kind = "invalid_data"
	KindUnknown     Kind = "unknown"
)

type kindProfile struct {
	retryable  bool
	retryAfter time.Duration
}

var profiles = map[Kind]kindProfile{
	KindNetwork:     {retryable: true, retryAfter: 5 * time.Second},
	KindAuth:        {retryable: false},
	KindServer:      {retryable: true, retryAfter: 30 * time.Second},
	KindClient:      {retryable: false},
	KindConflict:    {retryable: false},
	KindQueueFull:   {retryable: true, retryAfter: 10 * time.Second},
	KindInvalidData: {retryable: false},
	KindUnknown:     {retryable: false},
}

// Error is a classified sync error. Retryable and RetryAfter carry the
// suggested handling policy alongside the failure itself.
type Error struct {
	Kind       Kind
	Retryable  bool
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	p := profiles[kind]
	return &Error{
		Kind:       kind,
		Retryable:  p.retryable,
		RetryAfter: p.retryAfter,
		Message:    message,
	}
}

func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// FromStatusCode maps an HTTP response code to a classified error.
func FromStatusCode(code int, message string) *Error {
	switch {
	case code == 401 || code == 403:
		return New(KindAuth, message)
	case code == 409:
		return New(KindConflict, message)
	case code == 422:
		return New(KindInvalidData, message)
	case code == 429:
		return New(KindServer, message)
	case code >= 500:
		return New(KindServer, message)
	case code >= 400:
		return New(KindClient, message)
	default:
		return New(KindUnknown, message)
	}
}

var retryableHints = []string{
	"network",
	"connection",
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"temporar",
	"unavailable",
	"busy",
	"bad gateway",
	"internal server error",
	"no such host",
	"broken pipe",
	"reset by peer",
}

var authHints = []string{
	"unauthorized",
	"forbidden",
	"authentication",
	"token expired",
}

var validationHints = []string{
	"validation",
	"invalid",
	"malformed",
}

// Classify maps an arbitrary error into the taxonomy. Already-classified
// errors pass through unchanged. Unclassified errors are matched against
// message substrings; auth and validation errors are never retryable.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range authHints {
		if strings.Contains(msg, hint) {
			return Wrap(KindAuth, "authentication failure", err)
		}
	}
	for _, hint := range validationHints {
		if strings.Contains(msg, hint) {
			return Wrap(KindInvalidData, "data rejected", err)
		}
	}
	for _, hint := range retryableHints {
		if strings.Contains(msg, hint) {
			kind := KindNetwork
			if strings.Contains(msg, "server") || strings.Contains(msg, "gateway") || strings.Contains(msg, "unavailable") {
				kind = KindServer
			}
			return Wrap(kind, "transient failure", err)
		}
	}
	return Wrap(KindUnknown, "unclassified failure", err)
}

// IsRetryable reports whether the error should be retried under the
// default policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}
