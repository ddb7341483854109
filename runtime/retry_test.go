package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	fast := []RetryOption{WithInitialDelay(time.Millisecond), WithoutJitter()}

	t.Run("succeeds after transport failures", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), func(context.Context) error {
			attempts++
			if attempts < 3 {
				return &TransportError{Op: "execute", Err: errors.New("connection reset")}
			}
			return nil
		}, fast...)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry parse errors", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), func(context.Context) error {
			attempts++
			return &QueryParseError{ServerError: ServerError{Code: "42601"}}
		}, fast...)
		assert.ErrorIs(t, err, ErrQueryParse)
		assert.Equal(t, 1, attempts)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), func(context.Context) error {
			attempts++
			return &TransportError{Op: "execute", Err: errors.New("eof")}
		}, append(fast, WithMaxAttempts(2))...)
		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, 2, attempts)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, func(context.Context) error {
			return &TransportError{Op: "execute", Err: errors.New("eof")}
		}, WithInitialDelay(time.Hour))
		assert.ErrorIs(t, err, ErrCanceled)
	})
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, &TransportError{Op: "describe", Err: errors.New("eof")}
		}
		return 42, nil
	}, WithInitialDelay(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
