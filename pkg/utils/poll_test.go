package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollSucceedsOnceConditionHolds(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollTimesOutWithLastError(t *testing.T) {
	boom := errors.New("element missing")
	err := Poll(context.Background(), time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Contains(t, err.Error(), "element missing")
}

func TestPollStopsOnAbort(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return false, ErrStopPolling
	})
	assert.ErrorIs(t, err, ErrStopPolling)
	assert.Equal(t, 1, calls)
}

func TestPollHonoursParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, time.Millisecond, 0, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncateAndMask(t *testing.T) {
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "138****5678", MaskPhone("13812345678"))
	assert.Equal(t, "e99a18c428cb38d5f260853678922e03", MD5Hex("abc123"))
}
