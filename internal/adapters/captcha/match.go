package captcha

import "math"

// integral holds summed-area tables of values and squared values, padded by one row and
// column so window sums need no bounds checks.
type integral struct {
	w   int
	sum []float64
	sq  []float64
}

func newIntegral(g *grayImage) *integral {
	w := g.w + 1
	in := &integral{w: w, sum: make([]float64, w*(g.h+1)), sq: make([]float64, w*(g.h+1))}
	for y := 1; y <= g.h; y++ {
		var rowSum, rowSq float64
		for x := 1; x <= g.w; x++ {
			v := g.at(x-1, y-1)
			rowSum += v
			rowSq += v * v
			in.sum[y*w+x] = in.sum[(y-1)*w+x] + rowSum
			in.sq[y*w+x] = in.sq[(y-1)*w+x] + rowSq
		}
	}
	return in
}

func (in *integral) window(t []float64, x, y, w, h int) float64 {
	x2, y2 := x+w, y+h
	return t[y2*in.w+x2] - t[y*in.w+x2] - t[y2*in.w+x] + t[y*in.w+x]
}

// matchTemplate scores every placement of tpl over bg with the normalised correlation
// coefficient and returns the best one. Scores lie in [-1, 1]; flat windows score 0.
func matchTemplate(bg, tpl *grayImage) (bestX, bestY int, bestScore float64) {
	n := float64(tpl.w * tpl.h)

	var tSum float64
	for _, v := range tpl.pix {
		tSum += v
	}
	tMean := tSum / n

	centred := make([]float64, len(tpl.pix))
	var tNorm float64
	for i, v := range tpl.pix {
		centred[i] = v - tMean
		tNorm += centred[i] * centred[i]
	}

	in := newIntegral(bg)
	bestScore = math.Inf(-1)

	for y := 0; y <= bg.h-tpl.h; y++ {
		for x := 0; x <= bg.w-tpl.w; x++ {
			var num float64
			for ty := 0; ty < tpl.h; ty++ {
				row := bg.pix[(y+ty)*bg.w+x : (y+ty)*bg.w+x+tpl.w]
				trow := centred[ty*tpl.w : (ty+1)*tpl.w]
				for tx, v := range row {
					num += trow[tx] * v
				}
			}

			s := in.window(in.sum, x, y, tpl.w, tpl.h)
			s2 := in.window(in.sq, x, y, tpl.w, tpl.h)
			iNorm := s2 - s*s/n

			score := 0.0
			if den := math.Sqrt(tNorm * iNorm); den > 1e-9 {
				score = num / den
			}
			if score > bestScore {
				bestX, bestY, bestScore = x, y, score
			}
		}
	}
	return bestX, bestY, bestScore
}
