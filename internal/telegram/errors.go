package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed send. Transient kinds are retried in place
// by the drain worker; permanent kinds terminate the delivery immediately.
type ErrorKind string

const (
	KindRateLimit ErrorKind = "transient-rate-limit"
	KindServer    ErrorKind = "transient-server"
	KindNetwork   ErrorKind = "transient-network"
	KindBlocked   ErrorKind = "permanent-blocked"
	KindInvalid   ErrorKind = "permanent-invalid"
	KindOther     ErrorKind = "permanent-other"
)

// SendError is the typed error returned by the client. The worker never
// inspects raw HTTP codes; classification happens once, here.
type SendError struct {
	Kind        ErrorKind
	StatusCode  int
	Description string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("telegram: %s (%d): %s", e.Kind, e.StatusCode, e.Description)
}

// Transient reports whether the worker should retry in place.
func (e *SendError) Transient() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindNetwork:
		return true
	}
	return false
}

// AsSendError unwraps err into a *SendError if possible.
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	ok := errors.As(err, &se)
	return se, ok
}

// classify maps a Bot API error response to a SendError kind.
func classify(statusCode int, description string) *SendError {
	kind := KindOther
	switch {
	case statusCode == 429:
		kind = KindRateLimit
	case statusCode >= 500:
		kind = KindServer
	case statusCode == 403:
		kind = KindBlocked
	case statusCode == 400 && strings.Contains(strings.ToLower(description), "blocked"):
		kind = KindBlocked
	case statusCode == 400 || statusCode == 404:
		kind = KindInvalid
	}
	return &SendError{Kind: kind, StatusCode: statusCode, Description: description}
}
