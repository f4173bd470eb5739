package fusion

import (
	"errors"
	"fmt"
)

// ErrMissingReference reports a sample that carries neither a ground-truth
// nor a plain-image high-resolution reference.
var ErrMissingReference = errors.New("sample has no high-resolution reference")

// ReferenceKind tags the provenance of a high-resolution reference frame.
type ReferenceKind int

const (
	// GroundTruth marks a true high-resolution frame paired with the target.
	GroundTruth ReferenceKind = iota
	// PlainImage marks a stand-in reference used when no ground truth exists.
	PlainImage
)

func (k ReferenceKind) String() string {
	if k == GroundTruth {
		return "gt"
	}
	return "image"
}

// Reference is the resolved high-resolution reference of a sample. Resolving
// the gt-vs-image choice once at construction keeps the per-index loop free
// of field-existence checks.
type Reference struct {
	Kind  ReferenceKind
	Frame *Tensor // rank 3 (C, H, W) or rank 4 with a leading group axis
}

// Sample is the record retrieved at one sequence index.
type Sample struct {
	// LowRes is the K-frame low-resolution stack, shape (K, C, H, W).
	LowRes *Tensor
	// Ref is the high-resolution reference for this index.
	Ref Reference
	// AuxHQ is the fixed auxiliary high-quality frame, shape (C, H, W).
	AuxHQ *Tensor
	// SourcePath identifies the underlying frame for artifact naming.
	SourcePath string
}

// Validate checks the sample against the configured temporal rank.
func (s *Sample) Validate(temporalRank int) error {
	if s.LowRes == nil || s.LowRes.Rank() < 2 {
		return fmt.Errorf("sample %q: malformed low-resolution stack", s.SourcePath)
	}
	if s.LowRes.Dim(0) != temporalRank {
		return fmt.Errorf("sample %q: low-resolution stack has %d frames, want %d",
			s.SourcePath, s.LowRes.Dim(0), temporalRank)
	}
	if s.Ref.Frame == nil {
		return fmt.Errorf("sample %q: %w", s.SourcePath, ErrMissingReference)
	}
	return nil
}

// FrameSource is an indexable, ordered collection of samples. Implementations
// must be safe for concurrent reads; the evaluation loop only ever reads.
type FrameSource interface {
	// Len returns the sequence length N.
	Len() int
	// At returns the sample for index 0 <= idx < N.
	At(idx int) (*Sample, error)
}
