package captcha

import (
	"context"
	"fmt"
	"math"
	"time"
)

type Point struct {
	X, Y float64
}

// Box is an element's bounding box in page coordinates.
type Box struct {
	X, Y, Width, Height float64
}

func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Pointer is a mouse that can be pressed, moved and released on the page.
type Pointer interface {
	Move(ctx context.Context, x, y float64) error
	Down(ctx context.Context) error
	Up(ctx context.Context) error
}

// Track returns the drag positions relative to the press point. Steps start at 2px and
// grow with the distance covered, each with a small vertical jitter. The drag then
// overshoots slightly and settles exactly on offset.
func Track(offset float64, jitter func() float64, overshoot float64) []Point {
	if offset <= 0 {
		return nil
	}

	var points []Point
	cur := 0.0
	for cur < offset {
		step := math.Min(offset-cur, math.Max(2, cur*0.08))
		cur += step
		points = append(points, Point{X: cur, Y: jitter()})
	}

	if overshoot > 0 {
		points = append(points,
			Point{X: offset + overshoot},
			Point{X: offset - overshoot/2},
		)
	}
	return append(points, Point{X: offset})
}

// Drive presses the handle, drags it by offset pixels and releases it. The button is
// released even when a move fails.
func (s *Solver) Drive(ctx context.Context, p Pointer, handle Box, offset float64) (err error) {
	if offset <= 0 {
		return fmt.Errorf("%w: non-positive offset %.2f", ErrInconclusive, offset)
	}

	start := handle.Center()
	if err := p.Move(ctx, start.X, start.Y); err != nil {
		return fmt.Errorf("move to handle: %w", err)
	}
	if err := p.Down(ctx); err != nil {
		return fmt.Errorf("press handle: %w", err)
	}
	defer func() {
		if upErr := p.Up(context.WithoutCancel(ctx)); upErr != nil && err == nil {
			err = fmt.Errorf("release handle: %w", upErr)
		}
	}()

	for _, pt := range Track(offset, s.jitter, s.opts.Overshoot) {
		if err := p.Move(ctx, start.X+pt.X, start.Y+pt.Y); err != nil {
			return fmt.Errorf("drag: %w", err)
		}
		if err := sleepCtx(ctx, s.opts.StepDelay); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
