package fusion

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/decarlof/XFusion/internal/fsutil"
)

// echoEngine reconstructs the target's own reference, so every processed
// frame scores perfectly. failAt triggers an engine failure for one index.
type echoEngine struct {
	width  int
	failAt int
	calls  []int
}

func newEchoEngine() *echoEngine {
	return &echoEngine{width: 4, failAt: -1}
}

func (e *echoEngine) Infer(w *Window) (*InferenceResult, error) {
	e.calls = append(e.calls, w.Index)
	if w.Index == e.failAt {
		return nil, fmt.Errorf("synthetic engine failure")
	}
	att := make([]float64, e.width)
	for i := range att {
		att[i] = 1.0 / float64(e.width)
	}
	return &InferenceResult{Out: w.Ref.Clone(), CorrScore: att}, nil
}

func newTestRunner(t *testing.T, n, rank, worldSize int) (*Runner, *stubSource, *echoEngine) {
	t.Helper()
	src := newStubSource(n)
	b := newTestBuilder(t, src, 1, 1, n-1)
	eng := newEchoEngine()
	fs := fsutil.NewMemoryFileSystem()
	aw, err := NewArtifactWriter(fs, "run")
	if err != nil {
		t.Fatal(err)
	}
	return &Runner{
		Builder:    b,
		Engine:     eng,
		Aggregator: NewAggregator(),
		Artifacts:  aw,
		Rank:       rank,
		WorldSize:  worldSize,
		Codec:      ImageOptions{MinVal: 0, MaxVal: 1, RGBToBGR: true},
	}, src, eng
}

func TestRunProcessesOwnedIndices(t *testing.T) {
	r, _, eng := newTestRunner(t, 8, 0, 1)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}

	// A single worker owns indices 1..N-1; index 0 is never processed.
	want := []int{1, 2, 3, 4, 5, 6, 7}
	if len(eng.calls) != len(want) {
		t.Fatalf("processed %v, want %v", eng.calls, want)
	}
	for i, idx := range want {
		if eng.calls[i] != idx {
			t.Errorf("call %d = %d, want %d", i, eng.calls[i], idx)
		}
	}
	if r.Aggregator.Len() != len(want) {
		t.Errorf("aggregated %d records, want %d", r.Aggregator.Len(), len(want))
	}
}

func TestRunStridesByWorldSize(t *testing.T) {
	for rank, want := range map[int][]int{
		0: {1, 4, 7},
		1: {2, 5, 8},
		2: {3, 6, 9},
	} {
		r, _, eng := newTestRunner(t, 10, rank, 3)
		if err := r.Run(); err != nil {
			t.Fatal(err)
		}
		if len(eng.calls) != len(want) {
			t.Fatalf("rank %d processed %v, want %v", rank, eng.calls, want)
		}
		for i := range want {
			if eng.calls[i] != want[i] {
				t.Errorf("rank %d call %d = %d, want %d", rank, i, eng.calls[i], want[i])
			}
		}
	}
}

func TestRunPerfectReconstructionScores(t *testing.T) {
	r, _, _ := newTestRunner(t, 6, 0, 1)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	for _, rec := range r.Aggregator.Records() {
		if !math.IsInf(rec.PSNR, 1) {
			t.Errorf("frame %d PSNR = %v, want +Inf", rec.Index, rec.PSNR)
		}
		if rec.AAD != 0 {
			t.Errorf("frame %d AAD = %v, want 0", rec.Index, rec.AAD)
		}
		if rec.SSIM != 1.0 {
			t.Errorf("frame %d SSIM = %v, want 1.0", rec.Index, rec.SSIM)
		}
	}
}

func TestRunRecordsBoundaryFlags(t *testing.T) {
	r, _, _ := newTestRunner(t, 10, 0, 1)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	for _, rec := range r.Aggregator.Records() {
		want := r.Builder.BoundaryFlag(rec.Index)
		if rec.Boundary != want {
			t.Errorf("frame %d boundary = %d, want %d", rec.Index, rec.Boundary, want)
		}
	}
}

func TestRunWritesOneArtifactPerIndex(t *testing.T) {
	r, _, _ := newTestRunner(t, 6, 0, 1)
	fs := r.Artifacts.FS.(*fsutil.MemoryFileSystem)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	names := fs.Names("run/")
	if len(names) != 5 {
		t.Errorf("wrote %d artifacts, want 5: %v", len(names), names)
	}
}

func TestRunEngineFailureAborts(t *testing.T) {
	r, _, eng := newTestRunner(t, 8, 0, 1)
	eng.failAt = 3

	err := r.Run()
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if engErr.Index != 3 {
		t.Errorf("failure reported at %d, want 3", engErr.Index)
	}
	// A failed run leaves a truncated record set; completeness is detected
	// by row count.
	if r.Aggregator.Len() != 2 {
		t.Errorf("aggregated %d records before failure, want 2", r.Aggregator.Len())
	}
}

func TestRunSkipFailuresContinues(t *testing.T) {
	r, _, eng := newTestRunner(t, 8, 0, 1)
	eng.failAt = 3
	r.SkipFailures = true

	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if r.Aggregator.Len() != 6 {
		t.Errorf("aggregated %d records, want 6 (one skipped)", r.Aggregator.Len())
	}
	for _, rec := range r.Aggregator.Records() {
		if rec.Index == 3 {
			t.Error("failed index must not produce a record")
		}
	}
}

func TestRunValidatesWorkerGeometry(t *testing.T) {
	r, _, _ := newTestRunner(t, 4, 0, 1)
	r.WorldSize = 0
	if err := r.Run(); err == nil {
		t.Error("expected error for zero world size")
	}
	r.WorldSize = 2
	r.Rank = 2
	if err := r.Run(); err == nil {
		t.Error("expected error for rank outside world")
	}
}
