package captcha

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

// Widget is the slider challenge as rendered on a page.
type Widget interface {
	// Present reports whether a challenge is currently shown.
	Present(ctx context.Context) (bool, error)
	// Images fetches the current background and piece.
	Images(ctx context.Context) (Challenge, error)
	// Handle locates the draggable slider knob.
	Handle(ctx context.Context) (Box, error)
	Refresh(ctx context.Context) error
	// Solved reports whether the slider control is gone.
	Solved(ctx context.Context) (bool, error)
}

type Options struct {
	MaxAttempts int
	Limits      Limits

	// offset = x*Scale + Bias maps image pixels onto the rendered slider.
	Scale float64
	Bias  float64

	MinScore  float64
	Overshoot float64

	PresenceTimeout time.Duration
	StepDelay       time.Duration
	SettleDelay     time.Duration
	RefreshDelay    time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:     3,
		Limits:          DefaultLimits(),
		Scale:           1.03,
		Bias:            3.5,
		MinScore:        0.1,
		Overshoot:       2,
		PresenceTimeout: 9 * time.Second,
		StepDelay:       15 * time.Millisecond,
		SettleDelay:     2 * time.Second,
		RefreshDelay:    2 * time.Second,
	}
}

type Solver struct {
	opts   Options
	jitter func() float64
	Log    *logger.ClassLogger
}

func NewSolver(opts Options, session *model.Session) *Solver {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Scale == 0 {
		opts.Scale = 1
	}
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = DefaultOptions().PresenceTimeout
	}
	s := &Solver{
		opts:   opts,
		jitter: func() float64 { return rand.Float64() - 0.5 },
	}
	s.Log = logger.NewLogger(s, session)
	return s
}

// Solve returns the corrected drag distance for a challenge. Its errors are retryable:
// the caller should refresh the challenge and try again.
func (s *Solver) Solve(ch Challenge) (float64, error) {
	bg, piece, err := load(ch, s.opts.Limits)
	if err != nil {
		return 0, model.Retryable(err)
	}
	s.Log.JustLog(fmt.Sprintf("Captcha images: background %dx%d, piece %dx%d", bg.w, bg.h, piece.w, piece.h))

	x, _, score := matchTemplate(bg, piece)
	if score < s.opts.MinScore {
		return 0, model.Retryable(fmt.Errorf("%w: best score %.4f at x=%d", ErrInconclusive, score, x))
	}

	offset := float64(x)*s.opts.Scale + s.opts.Bias
	s.Log.JustLog(fmt.Sprintf("Captcha match x=%d score=%.4f, drag %.2fpx", x, score, offset))
	return offset, nil
}

// Run waits for a challenge and solves it. It reports false when no challenge appeared.
func (s *Solver) Run(ctx context.Context, w Widget, p Pointer) (bool, error) {
	err := utils.Poll(ctx, 300*time.Millisecond, s.opts.PresenceTimeout, func(ctx context.Context) (bool, error) {
		return w.Present(ctx)
	})
	if err != nil {
		if errors.Is(err, utils.ErrPollTimeout) {
			s.Log.JustLog("No captcha challenge appeared")
			return false, nil
		}
		return false, err
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		s.Log.Log(fmt.Sprintf("Solving slider captcha (attempt %d/%d)", attempt, s.opts.MaxAttempts))

		solved, err := s.attempt(ctx, w, p)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if solved {
			s.Log.Log("Slider captcha solved")
			return true, nil
		}
		switch {
		case model.IsFatal(err):
			return false, fmt.Errorf("%w: %w", model.ErrCaptchaFailed, err)
		case model.IsRetryable(err):
			s.Log.JustLog(fmt.Sprintf("Captcha attempt %d unusable, refreshing: %v", attempt, err))
		case err != nil:
			s.Log.JustLog(fmt.Sprintf("Captcha attempt %d failed: %v", attempt, err))
		default:
			s.Log.JustLog(fmt.Sprintf("Captcha attempt %d rejected", attempt))
		}

		if attempt < s.opts.MaxAttempts {
			if err := w.Refresh(ctx); err != nil {
				s.Log.JustLog(fmt.Sprintf("Captcha refresh failed: %v", err))
			}
			if err := sleepCtx(ctx, s.opts.RefreshDelay); err != nil {
				return false, err
			}
		}
	}

	return false, fmt.Errorf("%w: %d attempts exhausted", model.ErrCaptchaFailed, s.opts.MaxAttempts)
}

func (s *Solver) attempt(ctx context.Context, w Widget, p Pointer) (bool, error) {
	ch, err := w.Images(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch images: %w", err)
	}
	offset, err := s.Solve(ch)
	if err != nil {
		return false, err
	}
	handle, err := w.Handle(ctx)
	if err != nil {
		return false, fmt.Errorf("locate handle: %w", err)
	}
	if err := s.Drive(ctx, p, handle, offset); err != nil {
		return false, err
	}
	if err := sleepCtx(ctx, s.opts.SettleDelay); err != nil {
		return false, err
	}
	return w.Solved(ctx)
}
