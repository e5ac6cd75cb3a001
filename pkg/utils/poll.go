package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrPollTimeout = errors.New("condition not met before deadline")

// ErrStopPolling aborts Poll immediately when returned (wrapped or not) by a condition.
var ErrStopPolling = errors.New("polling aborted")

// Poll evaluates cond every interval until it reports true, the timeout elapses or ctx is
// done. Condition errors count as "not yet" and the last one is attached to the timeout
// error; errors wrapping ErrStopPolling end the loop at once.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		if err != nil {
			if errors.Is(err, ErrStopPolling) {
				return err
			}
			lastErr = err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ctx.Err()
			}
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrPollTimeout, lastErr)
			}
			return ErrPollTimeout
		case <-ticker.C:
		}
	}
}
