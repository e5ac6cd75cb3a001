package captcha

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	// ErrImageInvalid means the challenge images are placeholders or could not be decoded.
	ErrImageInvalid = errors.New("captcha image invalid")

	// ErrGeometry means the piece does not fit inside the background.
	ErrGeometry = errors.New("captcha piece larger than background")

	// ErrInconclusive means no position scored above the match floor.
	ErrInconclusive = errors.New("captcha match inconclusive")
)

// Challenge is one background/piece pair. It is only valid for a single attempt.
type Challenge struct {
	Background []byte
	Piece      []byte
}

// Limits are the minimum sizes of a real challenge; smaller images are loading placeholders.
type Limits struct {
	MinBackgroundWidth  int
	MinBackgroundHeight int
	MinPieceWidth       int
	MinPieceHeight      int
	MinBackgroundBytes  int
	MinPieceBytes       int
}

func DefaultLimits() Limits {
	return Limits{
		MinBackgroundWidth:  100,
		MinBackgroundHeight: 100,
		MinPieceWidth:       30,
		MinPieceHeight:      30,
		MinBackgroundBytes:  5000,
		MinPieceBytes:       1000,
	}
}

// grayImage is a row-major luma matrix.
type grayImage struct {
	w, h int
	pix  []float64
}

func (g *grayImage) at(x, y int) float64 { return g.pix[y*g.w+x] }

func decodeGray(data []byte) (*grayImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return toGray(img), nil
}

func toGray(img image.Image) *grayImage {
	b := img.Bounds()
	g := &grayImage{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			g.pix[y*g.w+x] = float64(c.Y)
		}
	}
	return g
}

// load decodes and validates both images of a challenge.
func load(ch Challenge, limits Limits) (bg, piece *grayImage, err error) {
	if len(ch.Background) < limits.MinBackgroundBytes || len(ch.Piece) < limits.MinPieceBytes {
		return nil, nil, fmt.Errorf("%w: background %d bytes, piece %d bytes", ErrImageInvalid, len(ch.Background), len(ch.Piece))
	}

	bg, err = decodeGray(ch.Background)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: background: %v", ErrImageInvalid, err)
	}
	piece, err = decodeGray(ch.Piece)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: piece: %v", ErrImageInvalid, err)
	}

	if bg.w < limits.MinBackgroundWidth || bg.h < limits.MinBackgroundHeight {
		return nil, nil, fmt.Errorf("%w: background is %dx%d", ErrImageInvalid, bg.w, bg.h)
	}
	if piece.w < limits.MinPieceWidth || piece.h < limits.MinPieceHeight {
		return nil, nil, fmt.Errorf("%w: piece is %dx%d", ErrImageInvalid, piece.w, piece.h)
	}
	if piece.w > bg.w || piece.h > bg.h {
		return nil, nil, fmt.Errorf("%w: %dx%d > %dx%d", ErrGeometry, piece.w, piece.h, bg.w, bg.h)
	}
	return bg, piece, nil
}
