package fusion

import (
	"fmt"
	"math"
)

// UnsupportedInputError reports a tensor the codec cannot convert. Only
// rank 2, 3 and 4 tensors are displayable.
type UnsupportedInputError struct {
	Rank int
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("only rank 4, 3 or 2 tensors supported, got rank %d", e.Rank)
}

// Raster is a displayable image in channel-last layout. Pix holds H*W*C
// values; for an 8-bit raster they are rounded floats in [0,255], otherwise
// floats in [0,1].
type Raster struct {
	H, W, C int
	Pix     []float64
}

// At returns the value at row y, column x, channel c.
func (r *Raster) At(y, x, c int) float64 {
	return r.Pix[(y*r.W+x)*r.C+c]
}

// Channel extracts a single channel as a one-channel raster.
func (r *Raster) Channel(c int) *Raster {
	out := &Raster{H: r.H, W: r.W, C: 1, Pix: make([]float64, r.H*r.W)}
	for y := 0; y < r.H; y++ {
		for x := 0; x < r.W; x++ {
			out.Pix[y*r.W+x] = r.At(y, x, c)
		}
	}
	return out
}

// ImageOptions control tensor-to-raster conversion.
type ImageOptions struct {
	// MinVal and MaxVal bound the clamp applied before rescaling to [0,1].
	MinVal, MaxVal float64
	// RGBToBGR swaps the channel order when the result has 3 channels.
	RGBToBGR bool
	// EightBit multiplies the [0,1] result by 255 and rounds to the nearest
	// integer. The raster stays float-valued so metric math is exact.
	EightBit bool
}

// DefaultImageOptions matches the normal inference output range.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{MinVal: 0, MaxVal: 1, RGBToBGR: true, EightBit: true}
}

// TensorToImage converts a tensor into a displayable raster. A leading batch
// dimension of size one is squeezed first; after clamping to
// [MinVal, MaxVal] and rescaling to [0,1] the remaining rank decides the
// layout:
//
//	rank 4 (B, C, H, W): tiled into a grid with ceil(sqrt(B)) columns
//	rank 3 (C, H, W):    single image; a lone channel is squeezed away
//	rank 2 (H, W):       passed through
//
// Any other rank is an UnsupportedInputError.
func TensorToImage(t *Tensor, o ImageOptions) (*Raster, error) {
	if t == nil {
		return nil, &UnsupportedInputError{Rank: 0}
	}
	t = t.SqueezeLeading()

	norm := make([]float64, t.Len())
	span := o.MaxVal - o.MinVal
	if span <= 0 {
		return nil, fmt.Errorf("invalid clamp range [%v, %v]", o.MinVal, o.MaxVal)
	}
	for i, v := range t.Data() {
		f := float64(v)
		if f < o.MinVal {
			f = o.MinVal
		} else if f > o.MaxVal {
			f = o.MaxVal
		}
		norm[i] = (f - o.MinVal) / span
	}

	var r *Raster
	switch t.Rank() {
	case 4:
		r = tileGrid(norm, t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3))
	case 3:
		r = chwToHWC(norm, t.Dim(0), t.Dim(1), t.Dim(2))
	case 2:
		r = &Raster{H: t.Dim(0), W: t.Dim(1), C: 1, Pix: norm}
	default:
		return nil, &UnsupportedInputError{Rank: t.Rank()}
	}

	if o.RGBToBGR && r.C == 3 {
		swapRB(r)
	}
	if o.EightBit {
		for i, v := range r.Pix {
			r.Pix[i] = math.Round(v * 255.0)
		}
	}
	return r, nil
}

// TensorsToImages converts an ordered list of tensors with shared options.
func TensorsToImages(ts []*Tensor, o ImageOptions) ([]*Raster, error) {
	out := make([]*Raster, 0, len(ts))
	for _, t := range ts {
		r, err := TensorToImage(t, o)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// tileGrid lays a (B, C, H, W) batch out as a single HWC raster with
// ceil(sqrt(B)) columns. Slots past the last batch element stay zero.
func tileGrid(norm []float64, b, c, h, w int) *Raster {
	cols := int(math.Ceil(math.Sqrt(float64(b))))
	rows := (b + cols - 1) / cols
	r := &Raster{H: rows * h, W: cols * w, C: c, Pix: make([]float64, rows*h*cols*w*c)}
	frame := c * h * w
	for i := 0; i < b; i++ {
		y0 := (i / cols) * h
		x0 := (i % cols) * w
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					v := norm[i*frame+ch*h*w+y*w+x]
					r.Pix[((y0+y)*r.W+x0+x)*c+ch] = v
				}
			}
		}
	}
	return r
}

// chwToHWC reorders a single (C, H, W) image to channel-last, squeezing a
// lone channel.
func chwToHWC(norm []float64, c, h, w int) *Raster {
	if c == 1 {
		return &Raster{H: h, W: w, C: 1, Pix: norm}
	}
	r := &Raster{H: h, W: w, C: c, Pix: make([]float64, h*w*c)}
	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Pix[(y*w+x)*c+ch] = norm[ch*h*w+y*w+x]
			}
		}
	}
	return r
}

func swapRB(r *Raster) {
	for i := 0; i < len(r.Pix); i += 3 {
		r.Pix[i], r.Pix[i+2] = r.Pix[i+2], r.Pix[i]
	}
}
