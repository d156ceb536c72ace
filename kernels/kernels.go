// Package kernels implements the operator-execution core shared by Weft
// backends: strongly-typed compute kernels with arbitrary tensor
// input/output signatures, and the versioned registry backends use to
// publish them.
//
// A kernel's compute entry point declares its parameters as an ordered
// Signature of input and output tensor descriptors. At execution time the
// binder walks that list left to right and binds each parameter to the
// caller-supplied Context, assigning input and output indices contiguously
// from 0 in declaration order. Parameter order is the only source of truth
// for index assignment; there is no named binding.
//
// Two kernel shapes are supported: a plain function (see Builder.Fn) for
// stateless kernels, and a struct kernel (see Builder.Struct) whose
// instance is built once per operator occurrence from initialization
// metadata, letting it cache call-invariant derived state across Compute
// calls.
//
// Registration happens single-threaded at backend initialization. After
// Registry.Freeze the registry is read-only and can be shared by reference
// with every execution context without locking.
package kernels

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// TensorShape is an ordered list of dimension sizes, outermost first.
// It describes a view only and owns no data.
type TensorShape = []int

// ShapeSize returns the number of elements a TensorShape spans.
// A scalar (empty) shape spans one element.
func ShapeSize(shape TensorShape) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// Context is the execution-time capability boundary through which a kernel
// reads its inputs and allocates its outputs. It is supplied by the
// executor per invocation and never shared across concurrent calls.
//
// InputData returns the flat backing slice of the given input (e.g.
// []float32), InputShape its dimensions. AllocateOutput allocates storage
// for the given output index and shape and returns its flat backing slice.
// The core never allocates or frees tensor storage through any other path.
type Context interface {
	InputData(index int) (any, error)
	InputShape(index int) (TensorShape, error)
	AllocateOutput(index int, shape TensorShape) (any, error)
}

// Info carries the initialization metadata a struct kernel is constructed
// from: operator attributes and the static shapes of its inputs, as known
// to the surrounding graph at operator-construction time.
type Info interface {
	// Attr returns the string attribute with the given name.
	Attr(name string) (string, error)

	// NumInputs returns the number of inputs declared for the operator.
	NumInputs() int

	// InputShape returns the static shape of the given input.
	InputShape(index int) (TensorShape, error)
}

// ParamKind distinguishes input from output parameters in a kernel
// Signature.
type ParamKind int

const (
	ParamInput ParamKind = iota
	ParamOutput
)

// String implements fmt.Stringer.
func (k ParamKind) String() string {
	switch k {
	case ParamInput:
		return "Input"
	case ParamOutput:
		return "Output"
	}
	return "InvalidParamKind"
}

// Param describes one declared tensor parameter of a kernel's compute
// entry point. DType constrains the element type the context must supply;
// dtypes.InvalidDType leaves it unconstrained, resolved per call.
type Param struct {
	Kind  ParamKind
	DType dtypes.DType
}

// In declares an input tensor parameter of the given element type.
func In(dtype dtypes.DType) Param { return Param{Kind: ParamInput, DType: dtype} }

// Out declares an output tensor parameter of the given element type.
func Out(dtype dtypes.DType) Param { return Param{Kind: ParamOutput, DType: dtype} }

// InAny declares an input tensor parameter whose element type is resolved
// per call from the context.
func InAny() Param { return Param{Kind: ParamInput} }

// OutAny declares an output tensor parameter whose element type is
// resolved per call from the context.
func OutAny() Param { return Param{Kind: ParamOutput} }

// Signature is the ordered parameter list of a kernel's compute entry
// point, in the exact order parameters are bound to context input/output
// indices.
type Signature []Param

// NumInputs returns how many parameters are inputs.
func (s Signature) NumInputs() int {
	count := 0
	for _, p := range s {
		if p.Kind == ParamInput {
			count++
		}
	}
	return count
}

// NumOutputs returns how many parameters are outputs.
func (s Signature) NumOutputs() int { return len(s) - s.NumInputs() }

func (s Signature) validate() error {
	if len(s) == 0 {
		return errors.New("kernel signature must declare at least one parameter")
	}
	for pos, p := range s {
		if p.Kind != ParamInput && p.Kind != ParamOutput {
			return errors.Errorf("kernel signature parameter #%d has invalid kind %d", pos, p.Kind)
		}
	}
	return nil
}

// Kernel is a polymorphic unit of computation over the fixed parameter
// list reported by Signature. Compute may be invoked many times and
// concurrently across distinct contexts; it must not retain mutable
// per-call state between invocations other than through the Args it is
// given.
type Kernel interface {
	// Signature reports the kernel's declared parameter list. For struct
	// kernels this is the instance's concrete list, fixed before any
	// Compute call.
	Signature() Signature

	// Compute runs the kernel over the bound arguments.
	Compute(args *Args) error
}

// ComputeFunc is the compute entry point of a stateless (free-function)
// kernel.
type ComputeFunc func(args *Args) error

// Factory builds a struct kernel instance from initialization metadata.
// It is called once per operator occurrence, before any Compute call.
type Factory func(info Info) (Kernel, error)

// fnKernel adapts a ComputeFunc to the Kernel interface.
type fnKernel struct {
	sig Signature
	fn  ComputeFunc
}

func (k *fnKernel) Signature() Signature { return k.sig }
func (k *fnKernel) Compute(args *Args) error { return k.fn(args) }

// Instance is a kernel bound to one operator occurrence, ready to be
// invoked by the executor. Fn kernels share a single stateless instance;
// struct kernels get one per NewInstance call.
type Instance interface {
	// Compute binds the kernel's declared parameters against the context
	// and runs the kernel. Binding or allocation failures are returned as
	// errors local to this call.
	Compute(ctx Context) error
}

type boundKernel struct {
	kernel Kernel
}

func (b *boundKernel) Compute(ctx Context) error {
	args, err := bind(ctx, b.kernel.Signature())
	if err != nil {
		return err
	}
	return b.kernel.Compute(args)
}

// bind walks the signature left to right maintaining independent input and
// output counters, constructing the per-call argument list. Input data and
// shapes are captured here; output storage stays unallocated until the
// kernel asks for it.
func bind(ctx Context, sig Signature) (*Args, error) {
	if err := sig.validate(); err != nil {
		return nil, err
	}
	args := &Args{
		ctx:      ctx,
		bindings: make([]Binding, len(sig)),
	}
	nextInput, nextOutput := 0, 0
	for pos, param := range sig {
		switch param.Kind {
		case ParamInput:
			slot, err := newInputSlot(ctx, nextInput)
			if err != nil {
				return nil, errors.WithMessagef(err, "binding parameter #%d (input #%d)", pos, nextInput)
			}
			if param.DType != dtypes.InvalidDType && slot.dtype != param.DType {
				return nil, errors.Errorf(
					"binding parameter #%d (input #%d): kernel declares %s, context supplied %s",
					pos, nextInput, param.DType, slot.dtype)
			}
			args.inputs = append(args.inputs, slot)
			args.bindings[pos] = Binding{Kind: ParamInput, Index: nextInput}
			nextInput++
		case ParamOutput:
			args.outputs = append(args.outputs, &outputSlot{ctx: ctx, index: nextOutput})
			args.bindings[pos] = Binding{Kind: ParamOutput, Index: nextOutput}
			nextOutput++
		}
	}
	return args, nil
}

func newInputSlot(ctx Context, index int) (*inputSlot, error) {
	data, err := ctx.InputData(index)
	if err != nil {
		return nil, errors.WithMessagef(err, "context cannot supply data")
	}
	shape, err := ctx.InputShape(index)
	if err != nil {
		return nil, errors.WithMessagef(err, "context cannot supply shape")
	}
	if data == nil {
		return nil, errors.New("context supplied nil data")
	}
	t := reflect.TypeOf(data)
	if t.Kind() != reflect.Slice {
		return nil, errors.Errorf("context supplied %T, expected a flat slice", data)
	}
	return &inputSlot{
		index: index,
		data:  data,
		dtype: dtypes.FromGoType(t.Elem()),
		shape: append(TensorShape{}, shape...),
	}, nil
}
