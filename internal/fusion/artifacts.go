package fusion

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"
	"strconv"

	"github.com/decarlof/XFusion/internal/fsutil"
)

// ArtifactWriter persists per-frame reconstruction images into a run's
// output directory. File names carry the source stem and the achieved PSNR
// so a directory listing doubles as a quick quality scan.
type ArtifactWriter struct {
	FS  fsutil.FileSystem
	Dir string
}

// NewArtifactWriter creates the output directory and returns a writer for it.
func NewArtifactWriter(fs fsutil.FileSystem, dir string) (*ArtifactWriter, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir %q: %w", dir, err)
	}
	return &ArtifactWriter{FS: fs, Dir: dir}, nil
}

// WriteFrame encodes an 8-bit raster as {stem}_{psnr}.png and returns the
// written path. The raster must hold rounded values in [0,255].
func (w *ArtifactWriter) WriteFrame(sourcePath string, psnr float64, r *Raster) (string, error) {
	stem := pathStem(sourcePath)
	name := filepath.Join(w.Dir, fmt.Sprintf("%s_%s.png", stem, formatPSNRName(psnr)))

	img, err := rasterToImage(r)
	if err != nil {
		return "", fmt.Errorf("artifact %q: %w", name, err)
	}
	f, err := w.FS.Create(name)
	if err != nil {
		return "", fmt.Errorf("create artifact %q: %w", name, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode artifact %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact %q: %w", name, err)
	}
	return name, nil
}

func rasterToImage(r *Raster) (image.Image, error) {
	switch r.C {
	case 1:
		img := image.NewGray(image.Rect(0, 0, r.W, r.H))
		for y := 0; y < r.H; y++ {
			for x := 0; x < r.W; x++ {
				img.SetGray(x, y, color.Gray{Y: clampByte(r.At(y, x, 0))})
			}
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, r.W, r.H))
		for y := 0; y < r.H; y++ {
			for x := 0; x < r.W; x++ {
				img.SetNRGBA(x, y, color.NRGBA{
					R: clampByte(r.At(y, x, 0)),
					G: clampByte(r.At(y, x, 1)),
					B: clampByte(r.At(y, x, 2)),
					A: 255,
				})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("cannot encode %d-channel raster", r.C)
	}
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// pathStem strips the directory and extension from a source path.
func pathStem(p string) string {
	base := filepath.Base(p)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// formatPSNRName renders a PSNR value for embedding in a file name.
func formatPSNRName(psnr float64) string {
	if math.IsInf(psnr, 1) {
		return "inf"
	}
	return strconv.FormatFloat(psnr, 'f', 4, 64)
}
