package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRetry = errors.New("try again")

func retryable(err error) bool { return errors.Is(err, errRetry) }

func TestRetryPolicy_SucceedsAfterRetries(t *testing.T) {
	p := RetryPolicy{Delay: time.Millisecond}
	var calls, waits int

	err := p.Do(context.Background(), retryable,
		func(int, error) { waits++ },
		func() error {
			calls++
			if calls < 4 {
				return errRetry
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, waits)
}

func TestRetryPolicy_NonRetryable(t *testing.T) {
	p := RetryPolicy{Delay: time.Hour}
	boom := errors.New("boom")
	calls := 0

	err := p.Do(context.Background(), retryable, nil, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_MaxAttempts(t *testing.T) {
	p := RetryPolicy{Delay: time.Millisecond, MaxAttempts: 3}
	calls := 0

	err := p.Do(context.Background(), retryable, nil, func() error {
		calls++
		return errRetry
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errRetry)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ContextCancel(t *testing.T) {
	p := RetryPolicy{Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := p.Do(ctx, retryable, func(int, error) { cancel() }, func() error {
		calls++
		return errRetry
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestErrorKinds(t *testing.T) {
	perr := preconditionf("coin %s is %s", "sc1", "INITIALISED")
	assert.ErrorIs(t, perr, ErrPrecondition)
	assert.NotErrorIs(t, perr, ErrValidation)
	assert.Equal(t, "precondition failed: coin sc1 is INITIALISED", perr.Error())

	verr := invalid(CheckSigCount, "entity signed 3 backups, message carries 2", nil)
	assert.ErrorIs(t, verr, ErrValidation)
	assert.Equal(t, "num_sigs: entity signed 3 backups, message carries 2", verr.Error())

	assert.ErrorIs(t, fatal("transfer receiver", errors.New("no")), ErrProtocolFatal)
	assert.NotErrorIs(t, fatal("transfer receiver", context.Canceled), ErrProtocolFatal)
}
