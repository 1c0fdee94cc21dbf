package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	boom := eris.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error { return boom })
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	boom := eris.New("boom")

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return boom })

	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.nowFunc = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return eris.New("boom") })
	assert.Equal(t, CircuitOpen, b.State())

	// Advance past the reset timeout: probe allowed.
	now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	b.nowFunc = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return eris.New("boom") })
	now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return eris.New("still down") })
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return eris.New("boom") })
	assert.Equal(t, []string{"closed->open"}, transitions)
}
