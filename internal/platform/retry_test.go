package platform

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	errs  []error
	calls int
}

func (s *scriptedFetcher) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return &Page{NextCursor: "next"}, nil
}

func newTestRetrying(next Fetcher, maxRetries int) (*RetryingFetcher, *[]time.Duration) {
	f := NewRetryingFetcher(next, maxRetries, time.Second, 8*time.Second, nil)
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return f, &slept
}

func TestRetryingFetcher_Backoff(t *testing.T) {
	f := NewRetryingFetcher(nil, 10, time.Second, 8*time.Second, nil)

	assert.Equal(t, 1*time.Second, f.Backoff(1))
	assert.Equal(t, 2*time.Second, f.Backoff(2))
	assert.Equal(t, 4*time.Second, f.Backoff(3))
	assert.Equal(t, 8*time.Second, f.Backoff(4))
	assert.Equal(t, 8*time.Second, f.Backoff(5))
	assert.Equal(t, 8*time.Second, f.Backoff(30))
}

func TestRetryingFetcher_RecoversFromTransient(t *testing.T) {
	next := &scriptedFetcher{errs: []error{io.ErrUnexpectedEOF, errors.New("read: connection reset by peer")}}
	f, slept := newTestRetrying(next, 3)

	page, err := f.FetchPage(context.Background(), PageRequest{Resource: ResourceAppointments})
	require.NoError(t, err)
	assert.Equal(t, "next", page.NextCursor)
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestRetryingFetcher_ExhaustionIsFatal(t *testing.T) {
	transient := errors.New("fetch failed")
	next := &scriptedFetcher{errs: []error{transient, transient, transient, transient, transient}}
	f, slept := newTestRetrying(next, 3)

	_, err := f.FetchPage(context.Background(), PageRequest{Resource: ResourceAppointments})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, transient)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Transient)
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, 4, next.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
}

func TestRetryingFetcher_FatalIsNotRetried(t *testing.T) {
	next := &scriptedFetcher{errs: []error{ErrUnauthorized}}
	f, slept := newTestRetrying(next, 3)

	_, err := f.FetchPage(context.Background(), PageRequest{Resource: ResourceAppointments})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, *slept)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Transient)
}

func TestRetryingFetcher_ContextCancelledDuringBackoff(t *testing.T) {
	next := &scriptedFetcher{errs: []error{io.ErrUnexpectedEOF, io.ErrUnexpectedEOF}}
	f := NewRetryingFetcher(next, 3, time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchPage(ctx, PageRequest{Resource: ResourceAppointments})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}
