package opendental

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrNotFound is returned by get-by-id operations when the remote system
// answers 404. List operations translate 404 into an empty result instead.
var ErrNotFound = errors.New("opendental: not found")

// ValidationError reports malformed local input. The offending request is
// never sent to the remote system.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("opendental: invalid %s: %s", e.Field, e.Reason)
}

// AuthenticationError reports a 401 from the remote system. Fatal, never
// retried; the caller must assume no partial side effects.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "opendental: authentication failed"
	}
	return "opendental: authentication failed: " + e.Message
}

// BadRequestError carries the remote-supplied message from a 400 response.
// Not retried.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return "opendental: bad request: " + e.Message
}

// RateLimitedError reports a 429. The executor handles it internally with a
// cooldown; callers only see it when retries are exhausted.
type RateLimitedError struct{}

func (e *RateLimitedError) Error() string {
	return "opendental: rate limited"
}

// RemoteUnavailableError reports a server-side or network failure. Single
// occurrences carry the status; the executor wraps the last failure with the
// attempt count once the retry budget is exhausted.
type RemoteUnavailableError struct {
	Status   int
	Attempts int
	Err      error
}

func (e *RemoteUnavailableError) Error() string {
	switch {
	case e.Attempts > 0 && e.Err != nil:
		return fmt.Sprintf("opendental: remote unavailable after %d attempts: %v", e.Attempts, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("opendental: remote unavailable (status %d)", e.Status)
	default:
		return "opendental: remote unavailable"
	}
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// isTransient reports whether an error is worth retrying: network failures,
// timeouts, 5xx responses and rate-limit signals.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return true
	}
	var rue *RemoteUnavailableError
	if errors.As(err, &rue) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
