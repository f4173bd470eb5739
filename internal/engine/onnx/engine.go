// Package onnx adapts an exported XFusion model running under ONNX Runtime
// to the fusion.InferenceEngine contract.
package onnx

import (
	"fmt"
	"log"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/decarlof/XFusion/internal/fusion"
)

// Input and output names of the exported model graph.
var (
	inputNames  = []string{"lq", "hi", "hq"}
	outputNames = []string{"out", "corr_score"}
)

// Options configure the runtime session.
type Options struct {
	// ModelPath is the exported .onnx model file.
	ModelPath string
	// LibraryPath optionally overrides the ONNX Runtime shared library
	// location.
	LibraryPath string
	// DeviceID selects the CUDA device when accelerated execution is
	// available.
	DeviceID int
}

// Engine runs windows through an ONNX Runtime session. The execution
// provider is chosen once at construction: CUDA when available, otherwise
// CPU. Falling back is logged, never an error.
type Engine struct {
	session *ort.DynamicAdvancedSession
	cuda    bool
}

// NewEngine initialises the runtime environment and creates a session.
func NewEngine(o Options) (*Engine, error) {
	if o.LibraryPath != "" {
		ort.SetSharedLibraryPath(o.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx environment: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}

	cuda := tryEnableCUDA(opts, o.DeviceID)
	if !cuda {
		if err := opts.SetIntraOpNumThreads(0); err != nil {
			log.Printf("[ONNXEngine] failed to set thread count: %v", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(o.ModelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session for %q: %w", o.ModelPath, err)
	}
	return &Engine{session: session, cuda: cuda}, nil
}

// tryEnableCUDA attempts to register the CUDA execution provider. Any
// failure degrades to CPU execution.
func tryEnableCUDA(opts *ort.SessionOptions, deviceID int) bool {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		log.Printf("[ONNXEngine] CUDA not available, using CPU: %v", err)
		return false
	}
	defer cudaOpts.Destroy()

	if err := cudaOpts.Update(map[string]string{"device_id": fmt.Sprintf("%d", deviceID)}); err != nil {
		log.Printf("[ONNXEngine] CUDA options rejected, using CPU: %v", err)
		return false
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		log.Printf("[ONNXEngine] CUDA provider unavailable, using CPU: %v", err)
		return false
	}
	log.Printf("[ONNXEngine] CUDA execution provider enabled (device %d)", deviceID)
	return true
}

// UsingCUDA reports whether accelerated execution was selected at startup.
func (e *Engine) UsingCUDA() bool { return e.cuda }

// Infer runs one assembled window through the model.
func (e *Engine) Infer(w *fusion.Window) (*fusion.InferenceResult, error) {
	lq, err := batchTensor(w.LowRes)
	if err != nil {
		return nil, fmt.Errorf("lq input: %w", err)
	}
	defer lq.Destroy()

	hi, err := batchTensor(w.HiPair)
	if err != nil {
		return nil, fmt.Errorf("hi input: %w", err)
	}
	defer hi.Destroy()

	hq, err := batchTensor(w.AuxHQ)
	if err != nil {
		return nil, fmt.Errorf("hq input: %w", err)
	}
	defer hq.Destroy()

	outputs := make([]ort.Value, len(outputNames))
	if err := e.session.Run([]ort.Value{lq, hi, hq}, outputs); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, err := fromORT(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("out output: %w", err)
	}
	corrTensor, err := fromORT(outputs[1])
	if err != nil {
		return nil, fmt.Errorf("corr_score output: %w", err)
	}
	corr := make([]float64, corrTensor.Len())
	for i, v := range corrTensor.Data() {
		corr[i] = float64(v)
	}

	return &fusion.InferenceResult{Out: out, CorrScore: corr}, nil
}

// Close releases the session and runtime environment.
func (e *Engine) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	return ort.DestroyEnvironment()
}

// batchTensor copies a fusion tensor into an ORT tensor with a leading batch
// dimension of one.
func batchTensor(t *fusion.Tensor) (*ort.Tensor[float32], error) {
	shape := t.Shape()
	dims := make([]int64, 0, len(shape)+1)
	dims = append(dims, 1)
	for _, d := range shape {
		dims = append(dims, int64(d))
	}
	data := make([]float32, t.Len())
	copy(data, t.Data())
	return ort.NewTensor(ort.NewShape(dims...), data)
}

// fromORT copies an ORT output back into a fusion tensor, dropping the
// leading batch dimension.
func fromORT(v ort.Value) (*fusion.Tensor, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	dims := t.GetShape()
	shape := make([]int, 0, len(dims))
	for _, d := range dims {
		shape = append(shape, int(d))
	}
	data := make([]float32, len(t.GetData()))
	copy(data, t.GetData())
	out, err := fusion.NewTensor(shape, data)
	if err != nil {
		return nil, err
	}
	return out.SqueezeLeading(), nil
}
