package fusion

import (
	"fmt"
)

// Window is the assembled input for one inference call. It lives only for
// the duration of that call and is never persisted.
type Window struct {
	Index int
	// LowRes is the (previous, current, next) temporal triple, shape
	// (3, C, H, W), each member the center slice of a sample's LR stack.
	LowRes *Tensor
	// HiPair is the high-resolution keyframe pair bounding the block that
	// contains Index, shape (2, C, H, W).
	HiPair *Tensor
	// AuxHQ is the fixed auxiliary high-quality frame of the target sample.
	AuxHQ *Tensor
	// Ref is the target sample's own reference frame, used for scoring.
	Ref *Tensor
	// RefKind records whether Ref is real ground truth or a stand-in image.
	RefKind ReferenceKind
	// SourcePath names the target sample for artifact output.
	SourcePath string
	// Boundary is 1 when Index sits on a high-resolution keyframe or a
	// clamped low-resolution edge, else 0.
	Boundary int
}

// WindowBuilder maps a target sequence index to the frame-source lookups
// needed for one inference call and assembles them into a Window.
//
// Low-resolution neighbors beyond the sequence ends are clamped to the
// nearest valid edge sample rather than wrapped: the first and last LoSep
// frames deliberately reuse duplicated edge context.
type WindowBuilder struct {
	Source FrameSource
	// LoSep is the low-resolution neighbor separation (>= 1).
	LoSep int
	// HiSep is the high-resolution separation; keyframe blocks span
	// 2*HiSep indices.
	HiSep int
	// CenterFrame is the temporally central slice of each LR stack.
	CenterFrame int
	// TemporalRank is the expected LR stack length K.
	TemporalRank int
	// MaxHiIndex is the largest valid high-resolution frame index. It is an
	// independently configured bound and may differ from Len()-1.
	MaxHiIndex int
}

// NewWindowBuilder validates the separation parameters against the source.
func NewWindowBuilder(src FrameSource, loSep, hiSep, centerFrame, temporalRank, maxHiIndex int) (*WindowBuilder, error) {
	if src == nil {
		return nil, fmt.Errorf("window builder needs a frame source")
	}
	if loSep < 1 {
		return nil, fmt.Errorf("lo frame separation must be >= 1, got %d", loSep)
	}
	if hiSep < 1 {
		return nil, fmt.Errorf("hi frame separation must be >= 1, got %d", hiSep)
	}
	if temporalRank < 1 {
		return nil, fmt.Errorf("temporal rank must be >= 1, got %d", temporalRank)
	}
	if centerFrame < 0 || centerFrame >= temporalRank {
		return nil, fmt.Errorf("center frame index %d outside stack of %d", centerFrame, temporalRank)
	}
	if maxHiIndex < 0 {
		return nil, fmt.Errorf("max hi index must be >= 0, got %d", maxHiIndex)
	}
	return &WindowBuilder{
		Source:       src,
		LoSep:        loSep,
		HiSep:        hiSep,
		CenterFrame:  centerFrame,
		TemporalRank: temporalRank,
		MaxHiIndex:   maxHiIndex,
	}, nil
}

// Clamp restricts idx to the valid sequence range [0, N-1].
func (b *WindowBuilder) Clamp(idx int) int {
	if idx < 0 {
		return 0
	}
	if n := b.Source.Len(); idx > n-1 {
		return n - 1
	}
	return idx
}

// BlockStart returns the first index of the 2*HiSep keyframe block
// containing idx. It is always a multiple of 2*HiSep.
func (b *WindowBuilder) BlockStart(idx int) int {
	span := 2 * b.HiSep
	return (idx / span) * span
}

// BlockEnd returns the trailing keyframe index of the block containing idx,
// capped at MaxHiIndex.
func (b *WindowBuilder) BlockEnd(idx int) int {
	end := b.BlockStart(idx) + 2*b.HiSep
	if end > b.MaxHiIndex {
		end = b.MaxHiIndex
	}
	return end
}

// BoundaryFlag is 1 when idx lies exactly on its block's leading keyframe or
// on a clamped low-resolution edge; these frames see different interpolation
// quality and are flagged in the report.
func (b *WindowBuilder) BoundaryFlag(idx int) int {
	if idx == b.BlockStart(idx) || idx == b.Clamp(idx+b.LoSep) {
		return 1
	}
	return 0
}

// Build assembles the window for the given target index.
func (b *WindowBuilder) Build(idx int) (*Window, error) {
	n := b.Source.Len()
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("target index %d outside sequence [0,%d)", idx, n)
	}

	target, err := b.fetch(idx)
	if err != nil {
		return nil, err
	}
	prev, err := b.fetch(b.Clamp(idx - b.LoSep))
	if err != nil {
		return nil, err
	}
	next, err := b.fetch(b.Clamp(idx + b.LoSep))
	if err != nil {
		return nil, err
	}

	triple, err := b.centerTriple(prev, target, next)
	if err != nil {
		return nil, err
	}
	pair, err := b.hiPair(idx)
	if err != nil {
		return nil, err
	}

	return &Window{
		Index:      idx,
		LowRes:     triple,
		HiPair:     pair,
		AuxHQ:      target.AuxHQ,
		Ref:        target.Ref.Frame,
		RefKind:    target.Ref.Kind,
		SourcePath: target.SourcePath,
		Boundary:   b.BoundaryFlag(idx),
	}, nil
}

func (b *WindowBuilder) fetch(idx int) (*Sample, error) {
	s, err := b.Source.At(idx)
	if err != nil {
		return nil, fmt.Errorf("fetch sample %d: %w", idx, err)
	}
	if err := s.Validate(b.TemporalRank); err != nil {
		return nil, err
	}
	return s, nil
}

// centerTriple extracts the center slice of each stack and concatenates them
// in (previous, current, next) order.
func (b *WindowBuilder) centerTriple(prev, cur, next *Sample) (*Tensor, error) {
	frames := make([]*Tensor, 0, 3)
	for _, s := range []*Sample{prev, cur, next} {
		f, err := s.LowRes.Frame(b.CenterFrame)
		if err != nil {
			return nil, fmt.Errorf("center slice of %q: %w", s.SourcePath, err)
		}
		frames = append(frames, f)
	}
	return Stack(frames...)
}

// hiPair fetches the block's bounding references and concatenates them. A
// rank-4 reference contributes its leading slice; rank 3 is used as-is.
func (b *WindowBuilder) hiPair(idx int) (*Tensor, error) {
	frames := make([]*Tensor, 0, 2)
	for _, hiIdx := range []int{b.BlockStart(idx), b.BlockEnd(idx)} {
		s, err := b.fetch(hiIdx)
		if err != nil {
			return nil, err
		}
		ref := s.Ref.Frame
		switch ref.Rank() {
		case 4:
			lead, err := ref.Frame(0)
			if err != nil {
				return nil, err
			}
			frames = append(frames, lead)
		case 3:
			frames = append(frames, ref)
		default:
			return nil, &UnsupportedInputError{Rank: ref.Rank()}
		}
	}
	return Stack(frames...)
}
