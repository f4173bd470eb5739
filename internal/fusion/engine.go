package fusion

import (
	"fmt"
)

// InferenceResult is what the engine returns for one window.
type InferenceResult struct {
	// Out is the reconstructed frame at high resolution.
	Out *Tensor
	// CorrScore is the attention weighting over the fused temporal inputs,
	// width 4 or 5 depending on how the auxiliary reference contributes.
	CorrScore []float64
}

// InferenceEngine reconstructs a high-resolution frame from an assembled
// window. Implementations are treated as pure for a given window; the
// evaluation loop never retries a failed call.
type InferenceEngine interface {
	Infer(w *Window) (*InferenceResult, error)
}

// EngineError wraps a failure propagated from the inference engine. It
// aborts the worker unless the surrounding orchestration opts into skipping.
type EngineError struct {
	Index int
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("inference failed at frame %d: %v", e.Index, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
