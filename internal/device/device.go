// Package device provides the device-runtime boundary for tensor
// transfers between accelerators.
package device

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidDevice    = errors.New("device: invalid device id")
	ErrAllocation       = errors.New("device: memory allocation failed")
	ErrUnsupportedDType = errors.New("device: unsupported dtype")
	ErrBadTensor        = errors.New("device: tensor data does not match shape")
)

type DType int

const (
	FP16 DType = iota
	FP32
	INT8
)

func (d DType) ElemSize() int {
	switch d {
	case FP16:
		return 2
	case FP32:
		return 4
	case INT8:
		return 1
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case FP16:
		return "fp16"
	case FP32:
		return "fp32"
	case INT8:
		return "int8"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

func ParseDType(s string) (DType, error) {
	switch s {
	case "fp16", "":
		return FP16, nil
	case "fp32":
		return FP32, nil
	case "int8":
		return INT8, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
}

// Tensor is a contiguous typed buffer resident on one device.
type Tensor struct {
	Device int
	DType  DType
	Shape  []int
	Data   []byte
}

func (t Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) Validate() error {
	es := t.DType.ElemSize()
	if es == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, t.DType)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dim %d", ErrBadTensor, d)
		}
	}
	if len(t.Data) != t.Elems()*es {
		return fmt.Errorf("%w: have %d bytes, shape needs %d", ErrBadTensor, len(t.Data), t.Elems()*es)
	}
	return nil
}

// Runtime abstracts the accelerator runtime that owns device memory and
// performs peer copies. Implementations report their own failures (invalid
// device index, allocation failure, transfer fault) and those errors reach
// the caller unmodified.
type Runtime interface {
	// Count reports how many devices the runtime manages.
	Count() int

	// CopyPeer performs a blocking device-to-device copy of src onto
	// dstDevice and returns the destination-resident tensor.
	CopyPeer(ctx context.Context, src Tensor, dstDevice int) (Tensor, error)

	// Free releases the device memory backing t.
	Free(t Tensor) error
}
