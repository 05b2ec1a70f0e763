package platform

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "truncated json", err: errors.New("unexpected end of JSON input"), want: "malformed_body"},
		{name: "html body", err: errors.New("invalid character '<' looking for beginning of value"), want: "malformed_body"},
		{name: "wrapped unexpected eof", err: fmt.Errorf("read: %w", io.ErrUnexpectedEOF), want: "malformed_body"},
		{name: "econnreset errno", err: fmt.Errorf("dial: %w", syscall.ECONNRESET), want: "connection_reset"},
		{name: "reset text", err: errors.New("read tcp: connection reset by peer"), want: "connection_reset"},
		{name: "generic fetch failure", err: errors.New("fetch failed: dial tcp: i/o timeout"), want: "fetch_failed"},
		{name: "server error", err: &ServerError{StatusCode: 502}, want: "fetch_failed"},
		{name: "rate limited", err: ErrRateLimited, want: "fetch_failed"},
		{name: "unauthorized", err: ErrUnauthorized, want: ""},
		{name: "query error", err: &QueryError{Messages: []string{"Field 'foo' doesn't exist"}}, want: ""},
		{name: "fetch error is final", err: &FetchError{Transient: true, Err: io.ErrUnexpectedEOF}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Signature(tt.err))
			assert.Equal(t, tt.want != "", IsTransient(tt.err))
		})
	}
}

func TestFetchError_MatchesErrFatal(t *testing.T) {
	err := fmt.Errorf("page 3: %w", &FetchError{Resource: ResourceAppointments, Attempts: 4, Transient: true, Err: io.ErrUnexpectedEOF})

	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, 4, fe.Attempts)
	assert.Contains(t, err.Error(), "retries exhausted")
}
