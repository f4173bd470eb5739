// Package dataset provides a directory-backed frame source: ordered PNG
// sequences for the low-resolution stacks and their high-resolution
// references.
package dataset

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/decarlof/XFusion/internal/fusion"
)

// Options configure a directory source.
type Options struct {
	// LQDir holds the ordered low-resolution frames, one PNG per index.
	LQDir string
	// GTDir optionally holds ground-truth high-resolution frames with the
	// same base names. Indices covered by it yield ground-truth references.
	GTDir string
	// ImageDir optionally holds stand-in reference images for indices with
	// no ground truth.
	ImageDir string
	// AuxHQPath is the fixed auxiliary high-quality frame.
	AuxHQPath string
	// TemporalRank is the LR stack length K assembled per index.
	TemporalRank int
	// CenterFrameIdx is the position of the target frame within its stack.
	CenterFrameIdx int
}

// DirSource implements fusion.FrameSource over PNG directories. All state is
// immutable after construction, so concurrent reads are safe.
type DirSource struct {
	opts     Options
	lqPaths  []string
	refPaths map[int]reference
	aux      *fusion.Tensor
}

type reference struct {
	kind fusion.ReferenceKind
	path string
}

// New scans the directories and loads the auxiliary frame.
func New(o Options) (*DirSource, error) {
	if o.TemporalRank < 1 {
		return nil, fmt.Errorf("temporal rank must be >= 1, got %d", o.TemporalRank)
	}
	if o.CenterFrameIdx < 0 || o.CenterFrameIdx >= o.TemporalRank {
		return nil, fmt.Errorf("center frame index %d outside stack of %d", o.CenterFrameIdx, o.TemporalRank)
	}

	lqPaths, err := listPNGs(o.LQDir)
	if err != nil {
		return nil, fmt.Errorf("scan LR directory: %w", err)
	}
	if len(lqPaths) == 0 {
		return nil, fmt.Errorf("no frames found in %q", o.LQDir)
	}

	refPaths := make(map[int]reference)
	if o.GTDir != "" {
		if err := indexRefs(refPaths, o.GTDir, lqPaths, fusion.GroundTruth); err != nil {
			return nil, fmt.Errorf("scan HR directory: %w", err)
		}
	}
	if o.ImageDir != "" {
		if err := indexRefs(refPaths, o.ImageDir, lqPaths, fusion.PlainImage); err != nil {
			return nil, fmt.Errorf("scan image directory: %w", err)
		}
	}

	aux, err := loadFrame(o.AuxHQPath)
	if err != nil {
		return nil, fmt.Errorf("load auxiliary frame: %w", err)
	}

	return &DirSource{opts: o, lqPaths: lqPaths, refPaths: refPaths, aux: aux}, nil
}

// Len returns the sequence length.
func (s *DirSource) Len() int { return len(s.lqPaths) }

// At assembles the sample for one index: a K-frame LR stack centered on the
// index (edge frames repeat at the sequence boundaries), the resolved
// reference, and the shared auxiliary frame.
func (s *DirSource) At(idx int) (*fusion.Sample, error) {
	if idx < 0 || idx >= len(s.lqPaths) {
		return nil, fmt.Errorf("index %d outside sequence [0,%d)", idx, len(s.lqPaths))
	}

	frames := make([]*fusion.Tensor, 0, s.opts.TemporalRank)
	for k := 0; k < s.opts.TemporalRank; k++ {
		j := idx - s.opts.CenterFrameIdx + k
		if j < 0 {
			j = 0
		}
		if j > len(s.lqPaths)-1 {
			j = len(s.lqPaths) - 1
		}
		f, err := loadFrame(s.lqPaths[j])
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	stack, err := fusion.Stack(frames...)
	if err != nil {
		return nil, err
	}

	ref, ok := s.refPaths[idx]
	if !ok {
		return nil, fmt.Errorf("index %d: %w", idx, fusion.ErrMissingReference)
	}
	refFrame, err := loadFrame(ref.path)
	if err != nil {
		return nil, err
	}

	return &fusion.Sample{
		LowRes:     stack,
		Ref:        fusion.Reference{Kind: ref.kind, Frame: refFrame},
		AuxHQ:      s.aux,
		SourcePath: s.lqPaths[idx],
	}, nil
}

func listPNGs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// indexRefs maps sequence indices to reference files by matching base names
// against the LR sequence. Ground truth takes precedence over stand-ins.
func indexRefs(refs map[int]reference, dir string, lqPaths []string, kind fusion.ReferenceKind) error {
	paths, err := listPNGs(dir)
	if err != nil {
		return err
	}
	byName := make(map[string]string, len(paths))
	for _, p := range paths {
		byName[filepath.Base(p)] = p
	}
	for i, lq := range lqPaths {
		p, ok := byName[filepath.Base(lq)]
		if !ok {
			continue
		}
		if existing, ok := refs[i]; ok && existing.kind == fusion.GroundTruth {
			continue
		}
		refs[i] = reference{kind: kind, path: p}
	}
	return nil
}

// loadFrame decodes a PNG into a (1, H, W) grayscale tensor in [0, 1].
func loadFrame(path string) (*fusion.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %q: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %q: %w", path, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]float32, w*h)
	gray, isGray := img.(*image.Gray)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if isGray {
				data[y*w+x] = float32(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255.0
			} else {
				r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				// Luma from 16-bit channels.
				lum := 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(bb)
				data[y*w+x] = lum / 65535.0
			}
		}
	}
	return fusion.NewTensor([]int{1, h, w}, data)
}
