package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_checkout/pkg/logger"
)

func TestRegistry_TripsAfterConsecutiveFailures(t *testing.T) {
	reg := NewRegistry[int](Config{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 2}, logger.Nop())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := reg.Execute("paystack", func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, gobreaker.StateOpen, reg.State("paystack"))

	called := false
	_, err := reg.Execute("paystack", func() (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	// other names are independent
	v, err := reg.Execute("flutterwave", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestRegistry_IsSuccessfulKeepsBreakerClosed(t *testing.T) {
	clientErr := errors.New("bad request")
	reg := NewRegistry[int](Config{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 1}, logger.Nop())
	reg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, clientErr) }

	for i := 0; i < 3; i++ {
		_, err := reg.Execute("gw", func() (int, error) { return 0, clientErr })
		require.ErrorIs(t, err, clientErr)
	}
	assert.Equal(t, gobreaker.StateClosed, reg.State("gw"))
}
