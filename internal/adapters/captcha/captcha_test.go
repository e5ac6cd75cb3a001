package captcha

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

func noiseImage(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(r.IntN(256)), uint8(r.IntN(256)), uint8(r.IntN(256)), 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func crop(src *image.RGBA, x, y, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			out.Set(dx, dy, src.At(x+dx, y+dy))
		}
	}
	return out
}

func testSolver() *Solver {
	opts := DefaultOptions()
	opts.PresenceTimeout = 50 * time.Millisecond
	opts.StepDelay = 0
	opts.SettleDelay = 0
	opts.RefreshDelay = 0
	return NewSolver(opts, nil)
}

func TestSolveFindsCroppedPiece(t *testing.T) {
	bg := noiseImage(240, 120, 7)
	piece := crop(bg, 137, 30, 44, 44)

	offset, err := testSolver().Solve(Challenge{Background: encodePNG(t, bg), Piece: encodePNG(t, piece)})
	require.NoError(t, err)
	assert.InDelta(t, 137*1.03+3.5, offset, 1e-9)
}

func TestMatchTemplateScoresExactMatchAsOne(t *testing.T) {
	bg := toGray(noiseImage(160, 100, 11))
	tpl := toGray(crop(noiseImage(160, 100, 11), 20, 40, 35, 35))

	x, y, score := matchTemplate(bg, tpl)
	assert.Equal(t, 20, x)
	assert.Equal(t, 40, y)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestSolveRejectsPieceLargerThanBackground(t *testing.T) {
	bg := encodePNG(t, noiseImage(120, 100, 1))
	wide := encodePNG(t, noiseImage(130, 40, 2))
	tall := encodePNG(t, noiseImage(40, 110, 3))

	for _, piece := range [][]byte{wide, tall} {
		_, err := testSolver().Solve(Challenge{Background: bg, Piece: piece})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGeometry)
		assert.True(t, model.IsRetryable(err))
	}
}

func TestSolveRejectsPlaceholderImages(t *testing.T) {
	s := testSolver()

	_, err := s.Solve(Challenge{Background: []byte("tiny"), Piece: []byte("tiny")})
	assert.ErrorIs(t, err, ErrImageInvalid)

	small := encodePNG(t, noiseImage(90, 90, 4))
	piece := encodePNG(t, noiseImage(40, 40, 5))
	_, err = s.Solve(Challenge{Background: small, Piece: piece})
	assert.ErrorIs(t, err, ErrImageInvalid)

	garbage := bytes.Repeat([]byte{0x42}, 6000)
	_, err = s.Solve(Challenge{Background: garbage, Piece: piece})
	assert.ErrorIs(t, err, ErrImageInvalid)
}

func TestSolveFlatImagesAreInconclusive(t *testing.T) {
	flat := func(w, h int) []byte {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := range img.Pix {
			img.Pix[i] = 128
		}
		return encodePNG(t, img)
	}

	opts := DefaultOptions()
	opts.Limits.MinBackgroundBytes = 0
	opts.Limits.MinPieceBytes = 0
	_, err := NewSolver(opts, nil).Solve(Challenge{Background: flat(200, 100), Piece: flat(40, 40)})
	assert.ErrorIs(t, err, ErrInconclusive)
}

func TestTrackAcceleratesAndSettlesOnOffset(t *testing.T) {
	jitter := func() float64 { return 0.3 }
	points := Track(100, jitter, 2)
	require.GreaterOrEqual(t, len(points), 4)

	main := points[:len(points)-3]
	assert.InDelta(t, 2.0, main[0].X, 1e-9)
	prevStep := 0.0
	for i := 1; i < len(main); i++ {
		step := main[i].X - main[i-1].X
		assert.Greater(t, step, 0.0)
		if i < len(main)-1 {
			assert.GreaterOrEqual(t, step, prevStep-1e-9)
		}
		prevStep = step
		assert.InDelta(t, 0.3, main[i].Y, 1e-9)
	}
	assert.InDelta(t, 100.0, main[len(main)-1].X, 1e-9)

	tail := points[len(points)-3:]
	assert.Greater(t, tail[0].X, 100.0)
	assert.Less(t, tail[1].X, 100.0)
	assert.Equal(t, Point{X: 100}, tail[2])

	assert.Nil(t, Track(0, jitter, 2))
}

type recordedPointer struct {
	moves   []Point
	downs   int
	ups     int
	failAt  int
	failErr error
}

func (p *recordedPointer) Move(_ context.Context, x, y float64) error {
	p.moves = append(p.moves, Point{X: x, Y: y})
	if p.failAt > 0 && len(p.moves) == p.failAt {
		return p.failErr
	}
	return nil
}

func (p *recordedPointer) Down(context.Context) error { p.downs++; return nil }

func (p *recordedPointer) Up(context.Context) error { p.ups++; return nil }

func TestDriveDragsFromHandleCentre(t *testing.T) {
	p := &recordedPointer{}
	err := testSolver().Drive(context.Background(), p, Box{X: 10, Y: 20, Width: 40, Height: 40}, 80)
	require.NoError(t, err)

	assert.Equal(t, Point{X: 30, Y: 40}, p.moves[0])
	assert.Equal(t, Point{X: 110, Y: 40}, p.moves[len(p.moves)-1])
	assert.Equal(t, 1, p.downs)
	assert.Equal(t, 1, p.ups)
}

func TestDriveReleasesOnFailure(t *testing.T) {
	p := &recordedPointer{failAt: 3, failErr: errors.New("target closed")}
	err := testSolver().Drive(context.Background(), p, Box{Width: 40, Height: 40}, 80)
	require.Error(t, err)
	assert.Equal(t, 1, p.ups)
}

type fakeWidget struct {
	present   bool
	challenge Challenge
	solveOn   int
	drags     int
	refreshes int
	imagesErr error
}

func (w *fakeWidget) Present(context.Context) (bool, error) { return w.present, nil }

func (w *fakeWidget) Images(context.Context) (Challenge, error) {
	if w.imagesErr != nil {
		return Challenge{}, w.imagesErr
	}
	return w.challenge, nil
}

func (w *fakeWidget) Handle(context.Context) (Box, error) {
	w.drags++
	return Box{X: 0, Y: 0, Width: 40, Height: 40}, nil
}

func (w *fakeWidget) Refresh(context.Context) error { w.refreshes++; return nil }

func (w *fakeWidget) Solved(context.Context) (bool, error) {
	return w.solveOn > 0 && w.drags >= w.solveOn, nil
}

func validChallenge(t *testing.T) Challenge {
	bg := noiseImage(200, 110, 21)
	return Challenge{Background: encodePNG(t, bg), Piece: encodePNG(t, crop(bg, 60, 20, 40, 40))}
}

func TestRunSolvesAfterRefresh(t *testing.T) {
	w := &fakeWidget{present: true, challenge: validChallenge(t), solveOn: 2}
	p := &recordedPointer{}

	solved, err := testSolver().Run(context.Background(), w, p)
	require.NoError(t, err)
	assert.True(t, solved)
	assert.Equal(t, 1, w.refreshes)
	assert.Equal(t, 2, p.downs)
	assert.Equal(t, 2, p.ups)
}

func TestRunExhaustsAttempts(t *testing.T) {
	w := &fakeWidget{present: true, challenge: validChallenge(t)}

	solved, err := testSolver().Run(context.Background(), w, &recordedPointer{})
	assert.False(t, solved)
	assert.ErrorIs(t, err, model.ErrCaptchaFailed)
	assert.Equal(t, 3, w.drags)
	assert.Equal(t, 2, w.refreshes)
}

func TestRunRefreshesOnBrokenImages(t *testing.T) {
	w := &fakeWidget{present: true, imagesErr: errors.New("src empty")}

	_, err := testSolver().Run(context.Background(), w, &recordedPointer{})
	assert.ErrorIs(t, err, model.ErrCaptchaFailed)
	assert.Equal(t, 0, w.drags)
	assert.Equal(t, 2, w.refreshes)
}

func TestRunStopsOnFatalWidgetError(t *testing.T) {
	w := &fakeWidget{present: true, imagesErr: model.Fatal(errors.New("sms mode"))}

	_, err := testSolver().Run(context.Background(), w, &recordedPointer{})
	assert.ErrorIs(t, err, model.ErrCaptchaFailed)
	assert.True(t, model.IsFatal(err))
	assert.Equal(t, 0, w.refreshes)
}

func TestRunWithoutChallenge(t *testing.T) {
	solved, err := testSolver().Run(context.Background(), &fakeWidget{}, &recordedPointer{})
	require.NoError(t, err)
	assert.False(t, solved)
}
