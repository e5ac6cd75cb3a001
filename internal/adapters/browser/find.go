package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

const (
	defaultFindInterval = 100 * time.Millisecond
	defaultFindTimeout  = 15 * time.Second
)

type FindOptions struct {
	Visible  bool
	Interval time.Duration
	Timeout  time.Duration
}

func (o FindOptions) withDefaults() FindOptions {
	if o.Interval <= 0 {
		o.Interval = defaultFindInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultFindTimeout
	}
	return o
}

// FindFirst polls every scope of the page until one holds sel. Frames created after the
// first scan are picked up on the next round.
func FindFirst(ctx context.Context, page Page, sel Selector, opts FindOptions) (Scope, error) {
	opts = opts.withDefaults()

	var found Scope
	err := utils.Poll(ctx, opts.Interval, opts.Timeout, func(ctx context.Context) (bool, error) {
		scope, err := scanScopes(ctx, page, sel, opts.Visible)
		if err != nil {
			return false, err
		}
		found = scope
		return scope != nil, nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrPollTimeout) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, sel, err)
		}
		return nil, err
	}
	return found, nil
}

// Exists checks every scope once without waiting.
func Exists(ctx context.Context, page Page, sel Selector) (bool, error) {
	scope, err := scanScopes(ctx, page, sel, false)
	return scope != nil, err
}

func scanScopes(ctx context.Context, page Page, sel Selector, visible bool) (Scope, error) {
	scopes, err := page.Scopes(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, scope := range scopes {
		var ok bool
		if visible {
			ok, err = scope.Visible(ctx, sel)
		} else {
			var n int
			n, err = scope.Count(ctx, sel)
			ok = n > 0
		}
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return scope, nil
		}
	}
	return nil, lastErr
}

func ClickFirst(ctx context.Context, page Page, sel Selector, timeout time.Duration) (Scope, error) {
	scope, err := FindFirst(ctx, page, sel, FindOptions{Visible: true, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if err := scope.Click(ctx, sel); err != nil {
		return nil, fmt.Errorf("click %s: %w", sel, err)
	}
	return scope, nil
}

func FillFirst(ctx context.Context, page Page, sel Selector, value string, timeout time.Duration) (Scope, error) {
	scope, err := FindFirst(ctx, page, sel, FindOptions{Visible: true, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if err := scope.Fill(ctx, sel, value); err != nil {
		return nil, fmt.Errorf("fill %s: %w", sel, err)
	}
	return scope, nil
}

// CheckFirst ticks a checkbox. Custom checkboxes are often hidden, so presence is enough.
func CheckFirst(ctx context.Context, page Page, sel Selector, timeout time.Duration) (Scope, error) {
	scope, err := FindFirst(ctx, page, sel, FindOptions{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if err := scope.Check(ctx, sel); err != nil {
		return nil, fmt.Errorf("check %s: %w", sel, err)
	}
	return scope, nil
}

// TryClick clicks sel if it becomes visible within timeout. A missing element is not an error.
func TryClick(ctx context.Context, page Page, sel Selector, timeout time.Duration) (bool, error) {
	_, err := ClickFirst(ctx, page, sel, timeout)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
