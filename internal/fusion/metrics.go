package fusion

import (
	"math"
)

// psnrPeak is the fixed peak signal value for 8-bit rasters.
const psnrPeak = 255.0

// MSE is the mean squared error between two same-shape one-channel rasters.
func MSE(a, b *Raster) float64 {
	var sum float64
	for i := range a.Pix {
		d := a.Pix[i] - b.Pix[i]
		sum += d * d
	}
	return sum / float64(len(a.Pix))
}

// PSNRFromMSE converts a mean squared error to decibels against the fixed
// 255 peak. A zero MSE yields +Inf, which is a valid value (identical
// frames), not an error.
func PSNRFromMSE(mse float64) float64 {
	if mse == 0 {
		return math.Inf(1)
	}
	return 10.0 * math.Log10(psnrPeak*psnrPeak/mse)
}

// PSNR is the peak signal-to-noise ratio between two rasters.
func PSNR(a, b *Raster) float64 {
	return PSNRFromMSE(MSE(a, b))
}

// AAD is the average absolute difference between two rasters.
func AAD(a, b *Raster) float64 {
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(a.Pix[i] - b.Pix[i])
	}
	return sum / float64(len(a.Pix))
}

// SSIM computes the mean structural similarity between two one-channel
// rasters with the given data range. It uses a 7x7 uniform window, sample
// covariance normalisation, and averages only positions whose window lies
// fully inside the image, so identical inputs score exactly 1.0.
func SSIM(a, b *Raster, dataRange float64) float64 {
	win := 7
	if a.H < win || a.W < win {
		win = a.H
		if a.W < win {
			win = a.W
		}
		if win%2 == 0 {
			win--
		}
		if win < 1 {
			return math.NaN()
		}
	}
	pad := win / 2
	np := float64(win * win)
	covNorm := np / (np - 1)
	if np == 1 {
		covNorm = 1
	}

	c1 := (0.01 * dataRange) * (0.01 * dataRange)
	c2 := (0.03 * dataRange) * (0.03 * dataRange)

	var total float64
	var count int
	for cy := pad; cy < a.H-pad; cy++ {
		for cx := pad; cx < a.W-pad; cx++ {
			var sx, sy, sxx, syy, sxy float64
			for dy := -pad; dy <= pad; dy++ {
				row := (cy + dy) * a.W
				for dx := -pad; dx <= pad; dx++ {
					x := a.Pix[row+cx+dx]
					y := b.Pix[row+cx+dx]
					sx += x
					sy += y
					sxx += x * x
					syy += y * y
					sxy += x * y
				}
			}
			ux := sx / np
			uy := sy / np
			vx := covNorm * (sxx/np - ux*ux)
			vy := covNorm * (syy/np - uy*uy)
			vxy := covNorm * (sxy/np - ux*uy)

			s := ((2*ux*uy + c1) * (2*vxy + c2)) / ((ux*ux + uy*uy + c1) * (vx + vy + c2))
			total += s
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return total / float64(count)
}
