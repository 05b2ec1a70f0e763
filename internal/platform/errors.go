package platform

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

// ErrFatal matches every error that must abort a sync run.
var ErrFatal = errors.New("fatal platform error")

// ErrUnauthorized indicates the API key or location token was rejected.
var ErrUnauthorized = errors.New("platform rejected credentials")

// ErrRateLimited indicates the platform throttled the request.
var ErrRateLimited = errors.New("platform rate limit exceeded")

// ServerError represents a 5xx response from the platform.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("platform server error: HTTP %d", e.StatusCode)
}

// QueryError carries the messages of a GraphQL errors array.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "platform query error: " + strings.Join(e.Messages, "; ")
}

// FetchError is returned by a Fetcher once a page request has failed for
// good. Transient reports whether the last failure was of a retryable kind;
// a transient FetchError means the retries ran out.
type FetchError struct {
	Resource  string
	Attempts  int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient, retries exhausted"
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s) (%s): %v", e.Resource, e.Attempts, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes every FetchError match ErrFatal: by the time one is returned the
// run cannot continue.
func (e *FetchError) Is(target error) bool {
	return target == ErrFatal
}

// transientSignatures are lower-cased fragments of error messages that mark a
// failure as worth retrying. Order only matters for Signature's result.
var transientSignatures = []struct {
	kind      string
	fragments []string
}{
	{kind: "malformed_body", fragments: []string{"unexpected end of json input", "invalid character", "unexpected eof"}},
	{kind: "connection_reset", fragments: []string{"connection reset", "econnreset", "broken pipe"}},
	{kind: "fetch_failed", fragments: []string{"fetch failed"}},
}

// Signature returns the transient failure kind err matches, or "" when err
// is fatal.
func Signature(err error) string {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return ""
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "malformed_body"
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return "connection_reset"
	case errors.Is(err, ErrRateLimited):
		return "fetch_failed"
	}
	var se *ServerError
	if errors.As(err, &se) {
		return "fetch_failed"
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		for _, f := range sig.fragments {
			if strings.Contains(msg, f) {
				return sig.kind
			}
		}
	}
	return ""
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Signature(err) != ""
}
