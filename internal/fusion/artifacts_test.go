package fusion

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/decarlof/XFusion/internal/fsutil"
)

func TestWriteFrameNamingAndContents(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewArtifactWriter(fs, "out/run")
	if err != nil {
		t.Fatal(err)
	}

	r := &Raster{H: 2, W: 2, C: 1, Pix: []float64{0, 85, 170, 255}}
	path, err := w.WriteFrame("data/LR/frame_0003.png", 33.1234567, r)
	if err != nil {
		t.Fatal(err)
	}
	if path != "out/run/frame_0003_33.1235.png" {
		t.Errorf("artifact path = %q", path)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("artifact is not a decodable PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 2 || b.Dy() != 2 {
		t.Errorf("artifact is %dx%d, want 2x2", b.Dx(), b.Dy())
	}
	_, _, bl, _ := img.At(1, 1).RGBA()
	if bl>>8 != 255 {
		t.Errorf("bottom-right pixel = %d, want 255", bl>>8)
	}
}

func TestWriteFrameInfinitePSNR(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewArtifactWriter(fs, "out")
	if err != nil {
		t.Fatal(err)
	}
	r := &Raster{H: 1, W: 1, C: 1, Pix: []float64{0}}
	path, err := w.WriteFrame("frame.png", math.Inf(1), r)
	if err != nil {
		t.Fatal(err)
	}
	if path != "out/frame_inf.png" {
		t.Errorf("artifact path = %q", path)
	}
}

func TestWriteFrameRejectsOddChannelCount(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewArtifactWriter(fs, "out")
	if err != nil {
		t.Fatal(err)
	}
	r := &Raster{H: 1, W: 1, C: 2, Pix: []float64{0, 0}}
	if _, err := w.WriteFrame("frame.png", 10, r); err == nil {
		t.Error("expected error for 2-channel raster")
	}
}
