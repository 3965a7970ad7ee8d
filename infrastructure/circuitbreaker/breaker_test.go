package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/circuitbreaker"
)

var errBackend = errors.New("search backend down")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	b := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Now:              clock.Now,
		OnStateChange: func(from, to circuitbreaker.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	fail := func() error { return errBackend }
	require.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	require.ErrorIs(t, b.Execute(ctx, fail), errBackend)
	assert.Equal(t, circuitbreaker.StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func() error { called = true; return nil })
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, called)

	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	b := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Second, Now: clock.Now})
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errBackend })
	clock.now = clock.now.Add(2 * time.Second)
	_ = b.Execute(ctx, func() error { return errBackend })

	assert.Equal(t, circuitbreaker.StateOpen, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	b := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1})
	err := b.Execute(context.Background(), func() error { return context.Canceled })

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}
