package fusion

import (
	"errors"
	"math"
	"testing"
)

func TestTensorToImage2DPassthrough(t *testing.T) {
	data := []float32{0, 0.25, 0.5, 1}
	in, _ := NewTensor([]int{2, 2}, data)

	r, err := TensorToImage(in, ImageOptions{MinVal: 0, MaxVal: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.H != 2 || r.W != 2 || r.C != 1 {
		t.Fatalf("unexpected raster shape %dx%dx%d", r.H, r.W, r.C)
	}
	for i, v := range data {
		if r.Pix[i] != float64(v) {
			t.Errorf("pix[%d] = %v, want %v", i, r.Pix[i], v)
		}
	}
}

func TestTensorToImageClampAndRescale(t *testing.T) {
	in, _ := NewTensor([]int{1, 2}, []float32{-3, 7})
	r, err := TensorToImage(in, ImageOptions{MinVal: 0, MaxVal: 2})
	if err != nil {
		t.Fatal(err)
	}
	if r.Pix[0] != 0 || r.Pix[1] != 1 {
		t.Errorf("clamp/rescale got %v, want [0 1]", r.Pix)
	}
}

func TestTensorToImageEightBitRoundTrip(t *testing.T) {
	vals := []float32{0, 0.1, 0.33333, 0.5, 0.77, 0.999, 1}
	in, _ := NewTensor([]int{1, len(vals)}, vals)

	r, err := TensorToImage(in, ImageOptions{MinVal: 0, MaxVal: 1, EightBit: true})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vals {
		back := r.Pix[i] / 255.0
		if diff := math.Abs(back - float64(v)); diff > 1.0/255.0 {
			t.Errorf("round trip of %v off by %v", v, diff)
		}
		if r.Pix[i] != math.Round(r.Pix[i]) {
			t.Errorf("eight-bit raster holds unrounded value %v", r.Pix[i])
		}
	}
}

func TestTensorToImageSqueezesSingleChannel(t *testing.T) {
	in := Zeros(1, 4, 5)
	r, err := TensorToImage(in, DefaultImageOptions())
	if err != nil {
		t.Fatal(err)
	}
	if r.C != 1 || r.H != 4 || r.W != 5 {
		t.Errorf("unexpected raster shape %dx%dx%d", r.H, r.W, r.C)
	}
}

func TestTensorToImageBatchSqueeze(t *testing.T) {
	// A (1, 1, H, W) tensor loses the batch dimension first, then follows
	// the rank-3 path.
	in := Zeros(1, 1, 3, 3)
	r, err := TensorToImage(in, ImageOptions{MinVal: 0, MaxVal: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.C != 1 || r.H != 3 || r.W != 3 {
		t.Errorf("unexpected raster shape %dx%dx%d", r.H, r.W, r.C)
	}
}

func TestTensorToImageBGRSwap(t *testing.T) {
	// One pixel, channels R=1, G=0.5, B=0 in CHW order.
	in, _ := NewTensor([]int{3, 1, 1}, []float32{1, 0.5, 0})

	r, err := TensorToImage(in, ImageOptions{MinVal: 0, MaxVal: 1, RGBToBGR: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.C != 3 {
		t.Fatalf("expected 3 channels, got %d", r.C)
	}
	if r.At(0, 0, 0) != 0 || r.At(0, 0, 1) != 0.5 || r.At(0, 0, 2) != 1 {
		t.Errorf("channel order not swapped: %v", r.Pix)
	}
}

func TestTensorToImageGridTiling(t *testing.T) {
	// Batch of 3 single-channel 2x2 frames, each filled with its index.
	frames := make([]*Tensor, 3)
	for i := range frames {
		f := Zeros(1, 2, 2)
		for j := range f.Data() {
			f.Data()[j] = float32(i) / 4.0
		}
		frames[i] = f
	}
	batch, err := Stack(frames...)
	if err != nil {
		t.Fatal(err)
	}

	r, err := TensorToImage(batch, ImageOptions{MinVal: 0, MaxVal: 1})
	if err != nil {
		t.Fatal(err)
	}
	// ceil(sqrt(3)) = 2 columns, 2 rows.
	if r.H != 4 || r.W != 4 {
		t.Fatalf("grid is %dx%d, want 4x4", r.H, r.W)
	}
	if r.At(0, 0, 0) != 0 {
		t.Errorf("tile 0 misplaced: %v", r.At(0, 0, 0))
	}
	if r.At(0, 2, 0) != 0.25 {
		t.Errorf("tile 1 misplaced: %v", r.At(0, 2, 0))
	}
	if r.At(2, 0, 0) != 0.5 {
		t.Errorf("tile 2 misplaced: %v", r.At(2, 0, 0))
	}
	// Fourth slot has no batch element and stays zero.
	if r.At(2, 2, 0) != 0 {
		t.Errorf("empty grid slot holds %v", r.At(2, 2, 0))
	}
}

func TestTensorToImageUnsupportedRank(t *testing.T) {
	in := Zeros(2, 2, 2, 2, 2)
	_, err := TensorToImage(in, DefaultImageOptions())
	var uerr *UnsupportedInputError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnsupportedInputError, got %v", err)
	}
	if uerr.Rank != 5 {
		t.Errorf("reported rank %d, want 5", uerr.Rank)
	}

	if _, err := TensorToImage(nil, DefaultImageOptions()); !errors.As(err, &uerr) {
		t.Errorf("nil tensor should be unsupported, got %v", err)
	}
}

func TestChannelExtraction(t *testing.T) {
	in, _ := NewTensor([]int{3, 1, 2}, []float32{1, 2, 3, 4, 5, 6})
	r, err := TensorToImage(in, ImageOptions{MinVal: 0, MaxVal: 10})
	if err != nil {
		t.Fatal(err)
	}
	first := r.Channel(0)
	if first.C != 1 || len(first.Pix) != 2 {
		t.Fatalf("unexpected channel raster %dx%dx%d", first.H, first.W, first.C)
	}
	if first.Pix[0] != 0.1 || first.Pix[1] != 0.2 {
		t.Errorf("channel 0 = %v, want [0.1 0.2]", first.Pix)
	}
}
