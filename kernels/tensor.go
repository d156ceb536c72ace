package kernels

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// inputSlot is the binder-owned record of one bound input: data pointer
// and shape captured from the context at binding time. The shape is
// immutable for the lifetime of the views handed to the kernel.
type inputSlot struct {
	index int
	data  any
	dtype dtypes.DType
	shape TensorShape
}

// outputSlot is the binder-owned record of one bound output. Its backing
// storage is allocated lazily, exactly once per call, the first time the
// kernel requests it.
type outputSlot struct {
	ctx   Context
	index int
	data  any
	shape TensorShape
}

func (s *outputSlot) allocate(shape TensorShape) (any, error) {
	if s.data != nil {
		return s.data, nil
	}
	data, err := s.ctx.AllocateOutput(s.index, shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "allocating output #%d with shape %v", s.index, shape)
	}
	if data == nil {
		return nil, errors.Errorf("context returned nil storage for output #%d", s.index)
	}
	s.data = data
	s.shape = append(TensorShape{}, shape...)
	return data, nil
}

// TensorView is a typed, non-owning read view over one bound input.
type TensorView[T any] struct {
	slot *inputSlot
	data []T
}

// Shape returns the view's dimensions, captured at binding time.
func (v *TensorView[T]) Shape() TensorShape { return v.slot.shape }

// Data returns the flat backing slice.
func (v *TensorView[T]) Data() []T { return v.data }

// Tensor is a typed write handle over one bound output. Its storage is
// allocated through the context on the first Allocate call.
type Tensor[T any] struct {
	slot *outputSlot
}

// Allocate requests storage for the given shape through the context.
// Allocation happens at most once per call: repeated invocations return
// the storage of the first, regardless of shape.
func (t *Tensor[T]) Allocate(shape TensorShape) ([]T, error) {
	data, err := t.slot.allocate(shape)
	if err != nil {
		return nil, err
	}
	flat, ok := data.([]T)
	if !ok {
		return nil, errors.Errorf("output #%d: kernel expects %s storage, context allocated %T",
			t.slot.index, reflect.TypeOf(flat).Elem(), data)
	}
	return flat, nil
}

// Shape returns the shape the output was allocated with, or nil before
// allocation.
func (t *Tensor[T]) Shape() TensorShape { return t.slot.shape }

// Binding records which context index a declared parameter was bound to.
type Binding struct {
	Kind  ParamKind
	Index int
}

// Args is the transient, per-call list of bound kernel arguments. It is
// created by the binder at the start of a Compute call, consumed by the
// kernel body, and released when the call returns.
type Args struct {
	ctx      Context
	inputs   []*inputSlot
	outputs  []*outputSlot
	bindings []Binding
}

// Context returns the Context this call is bound to.
func (a *Args) Context() Context { return a.ctx }

// NumInputs returns the number of bound input parameters.
func (a *Args) NumInputs() int { return len(a.inputs) }

// NumOutputs returns the number of bound output parameters.
func (a *Args) NumOutputs() int { return len(a.outputs) }

// Binding reports the kind and context index assigned to the declared
// parameter at the given position.
func (a *Args) Binding(pos int) Binding { return a.bindings[pos] }

// InputDType returns the element type the context supplied for the given
// input index.
func (a *Args) InputDType(index int) (dtypes.DType, error) {
	if index < 0 || index >= len(a.inputs) {
		return dtypes.InvalidDType, errors.Errorf("input #%d out of range, kernel bound %d inputs", index, len(a.inputs))
	}
	return a.inputs[index].dtype, nil
}

// InputShape returns the shape captured for the given input index.
func (a *Args) InputShape(index int) (TensorShape, error) {
	if index < 0 || index >= len(a.inputs) {
		return nil, errors.Errorf("input #%d out of range, kernel bound %d inputs", index, len(a.inputs))
	}
	return a.inputs[index].shape, nil
}

// InputAt returns the typed view of the input bound at the given input
// index.
func InputAt[T any](a *Args, index int) (*TensorView[T], error) {
	if index < 0 || index >= len(a.inputs) {
		return nil, errors.Errorf("input #%d out of range, kernel bound %d inputs", index, len(a.inputs))
	}
	slot := a.inputs[index]
	flat, ok := slot.data.([]T)
	if !ok {
		var zero T
		return nil, errors.Errorf("input #%d: kernel expects []%s, context supplied %T",
			index, reflect.TypeOf(zero), slot.data)
	}
	return &TensorView[T]{slot: slot, data: flat}, nil
}

// OutputAt returns the typed write handle of the output bound at the given
// output index.
func OutputAt[T any](a *Args, index int) (*Tensor[T], error) {
	if index < 0 || index >= len(a.outputs) {
		return nil, errors.Errorf("output #%d out of range, kernel bound %d outputs", index, len(a.outputs))
	}
	return &Tensor[T]{slot: a.outputs[index]}, nil
}
