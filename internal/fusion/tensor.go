package fusion

import (
	"fmt"
)

// Tensor is a dense numeric array in channel-first layout: data is a flat
// float32 slice indexed row-major over shape. This matches what the ONNX
// runtime bindings consume (flat slice plus shape), so window assembly can
// hand buffers to the engine without copying.
type Tensor struct {
	shape []int
	data  []float32
}

// NewTensor wraps data in a Tensor with the given shape. The data slice is
// retained, not copied.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor shape must have at least one dimension")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("tensor dimensions must be positive, got %v", shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{shape: s, data: data}, nil
}

// Zeros returns a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{shape: s, data: make([]float32, n)}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	s := make([]int, len(t.shape))
	copy(s, t.shape)
	return s
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the underlying flat slice.
func (t *Tensor) Data() []float32 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	d := make([]float32, len(t.data))
	copy(d, t.data)
	s := make([]int, len(t.shape))
	copy(s, t.shape)
	return &Tensor{shape: s, data: d}
}

// Frame returns a copy of slice i along the leading dimension. For a
// (K, C, H, W) stack, Frame(k) is the (C, H, W) frame at position k.
func (t *Tensor) Frame(i int) (*Tensor, error) {
	if t.Rank() < 2 {
		return nil, fmt.Errorf("cannot slice a rank-%d tensor", t.Rank())
	}
	if i < 0 || i >= t.shape[0] {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", i, t.shape[0])
	}
	stride := len(t.data) / t.shape[0]
	d := make([]float32, stride)
	copy(d, t.data[i*stride:(i+1)*stride])
	s := make([]int, len(t.shape)-1)
	copy(s, t.shape[1:])
	return &Tensor{shape: s, data: d}, nil
}

// Stack concatenates same-shape tensors along a new leading dimension.
func Stack(frames ...*Tensor) (*Tensor, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack of zero tensors")
	}
	base := frames[0].shape
	n := frames[0].Len()
	for _, f := range frames[1:] {
		if !sameShape(base, f.shape) {
			return nil, fmt.Errorf("stack shape mismatch: %v vs %v", base, f.shape)
		}
	}
	data := make([]float32, 0, n*len(frames))
	for _, f := range frames {
		data = append(data, f.data...)
	}
	shape := append([]int{len(frames)}, base...)
	return &Tensor{shape: shape, data: data}, nil
}

// SqueezeLeading drops a leading dimension of size one, if present. The
// returned tensor shares data with the receiver.
func (t *Tensor) SqueezeLeading() *Tensor {
	if len(t.shape) > 1 && t.shape[0] == 1 {
		return &Tensor{shape: t.shape[1:], data: t.data}
	}
	return t
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
