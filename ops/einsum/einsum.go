// Package einsum implements the tensor-contraction operator family by
// algebraically decomposing an Einstein-summation equation into the
// primitive operations the Weft native device integrates: elementwise
// multiply, matrix multiply, sum-reduction, transpose and identity.
//
// A single equation covers a wide range of operators. Some examples and
// how they lower:
//
//	"ij,jk->ik"     matrix multiplication           -> MatMul
//	"bij,bjk->bik"  batched matrix multiplication   -> MatMul (batch axis)
//	"ij,ij->ij"     elementwise multiplication      -> Multiply
//	"i,i->"         inner (dot) product             -> MatMul (degenerate)
//	"ij->ji"        transposition                   -> Transpose
//	"ii->i"         main diagonal view              -> Transpose (strided)
//	"ij->i"         row sums                        -> ReduceSum
//	"ij->ij"        no-op                           -> Identity
//
// The decomposition rests on an internal "product tensor": the union of
// all distinct axis labels across every operand. Each operand is
// reprojected -- shape/stride metadata only, never a data copy -- to be
// broadcast-compatible with that product, then the recognized primitive
// consumes the reprojected views directly.
//
// Everything expensive (parsing, classification, reprojection) runs once
// at operator construction; Compute only executes the frozen plan, so
// concurrent calls on one instance are race-free. Equations outside the
// recognized catalog report Unsupported through Query, before any kernel
// is constructed, so the caller can route the operator to a fallback
// backend.
package einsum

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/weft-ml/weft/kernels"
)

// Identity of the contraction kernel in the registry.
const (
	Provider     = "weft"
	Domain       = "ai.onnx"
	OpName       = "Einsum"
	SinceVersion = 12
)

// EquationAttr is the operator attribute carrying the equation string.
const EquationAttr = "equation"

// Capabilities holds which recognized contraction forms a device can
// lower natively.
type Capabilities struct {
	Operations map[RecognizedOpType]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[RecognizedOpType]bool, len(c.Operations))
	for op, ok := range c.Operations {
		c2.Operations[op] = ok
	}
	return c2
}

var nativeCapabilities = Capabilities{
	Operations: map[RecognizedOpType]bool{
		RecognizedOpTypeIdentity:             true,
		RecognizedOpTypeTranspose:            true,
		RecognizedOpTypeReduceSum:            true,
		RecognizedOpTypeMultiply:             true,
		RecognizedOpTypeMatMul:               true,
		RecognizedOpTypeMatMulTransposeA:     true,
		RecognizedOpTypeMatMulTransposeB:     true,
		RecognizedOpTypeMatMulNhcw:           true,
		RecognizedOpTypeMatMulNhcwTransposeA: true,
		RecognizedOpTypeMatMulNhcwTransposeB: true,
		RecognizedOpTypeMatMulGeneral:        true,
	},
}

// NativeCapabilities returns the recognized forms the built-in primitive
// executor supports.
func NativeCapabilities() Capabilities { return nativeCapabilities.Clone() }

// Query classifies an equation against the primitive catalog given only
// the operand ranks, without constructing anything. Unsupported means the
// surrounding system should route this operator to a fallback
// implementation; it is a capability signal, not an error.
func Query(equation string, operandRanks []int) RecognizedOpType {
	eq, err := parseEquation(equation, nil)
	if err != nil {
		return RecognizedOpTypeUnsupported
	}
	if len(operandRanks) != len(eq.operands) {
		return RecognizedOpTypeUnsupported
	}
	for i, operand := range eq.operands {
		if len(operand.axes) != operandRanks[i] {
			return RecognizedOpTypeUnsupported
		}
	}
	return classify(eq)
}

// plan is the frozen hardware-primitive description an Operator executes
// on every Compute call: the recognized primitive and the reprojected
// view descriptors feeding it.
type plan struct {
	recognized RecognizedOpType
	inputs     []tensorDesc
	output     tensorDesc
	outputDims []int
}

// Operator is the contraction operator for one (equation, operand shapes)
// occurrence, packaged as a struct kernel. Its classification and
// reprojection state is computed once at construction and read-only
// afterwards, so concurrent Compute calls with distinct contexts are safe.
type Operator struct {
	eq   *equation
	plan plan
	sig  kernels.Signature
}

var _ kernels.Kernel = (*Operator)(nil)

// New is the kernels.Factory for the contraction operator: it reads the
// equation attribute and the operands' static shapes from the
// initialization metadata.
func New(info kernels.Info) (kernels.Kernel, error) {
	equation, err := info.Attr(EquationAttr)
	if err != nil {
		return nil, errors.WithMessagef(err, "einsum kernel requires the %q attribute", EquationAttr)
	}
	shapes := make([][]int, info.NumInputs())
	for i := range shapes {
		if shapes[i], err = info.InputShape(i); err != nil {
			return nil, errors.WithMessagef(err, "einsum kernel requires the static shape of input #%d", i)
		}
	}
	return NewOperator(equation, shapes)
}

// NewOperator runs the construction-time pipeline -- equation parsing,
// label resolution, classification, reprojection -- and freezes the
// resulting primitive plan. It fails on malformed or inconsistent
// equations and on equations outside the recognized catalog (callers
// should Query first and fall back instead of constructing those).
func NewOperator(equation string, operandShapes [][]int) (*Operator, error) {
	eq, err := parseEquation(equation, operandShapes)
	if err != nil {
		return nil, err
	}
	recognized := classify(eq)
	if !nativeCapabilities.Operations[recognized] {
		return nil, errors.Errorf("einsum equation %q (operand shapes %v) is not supported by the native primitive set",
			equation, operandShapes)
	}
	op := &Operator{eq: eq}
	if err := op.buildPlan(recognized); err != nil {
		return nil, err
	}
	op.sig = make(kernels.Signature, 0, len(eq.operands)+1)
	for range eq.operands {
		op.sig = append(op.sig, kernels.InAny())
	}
	op.sig = append(op.sig, kernels.OutAny())

	klog.V(1).Infof("einsum: %q with operand shapes %v recognized as %s", equation, operandShapes, recognized)
	if klog.V(2).Enabled() {
		for i, desc := range op.plan.inputs {
			klog.Infof("einsum: %q input #%d projected to %s", equation, i, desc)
		}
		klog.Infof("einsum: %q output projected to %s", equation, op.plan.output)
	}
	return op, nil
}

// buildPlan reprojects every operand and the output for the recognized
// primitive and freezes the result.
func (op *Operator) buildPlan(recognized RecognizedOpType) error {
	eq := op.eq
	op.plan = plan{recognized: recognized, outputDims: eq.outputDims()}

	if recognized == RecognizedOpTypeIdentity {
		// Already shape-compatible; Compute degenerates to a copy.
		op.plan.inputs = []tensorDesc{newTensorDesc(eq.operandDims[0])}
		op.plan.output = newTensorDesc(op.plan.outputDims)
		return nil
	}

	if recognized.IsMatMul() {
		// GEMM only contracts the trailing axis, so force every view into
		// the {batch, channel, height|width, reduction} ordering.
		axes := pickMatMulAxes(eq)
		aOrder := []int{axes.batch, axes.channel, axes.height, axes.reduction}
		bOrder := []int{axes.batch, axes.channel, axes.width, axes.reduction}
		outOrder := []int{axes.batch, axes.channel, axes.height, axes.width}
		a, err := newTensorDesc(eq.operandDims[0]).reprojectToAxes(eq.operands[0].axes, eq.productDims, aOrder)
		if err != nil {
			return err
		}
		b, err := newTensorDesc(eq.operandDims[1]).reprojectToAxes(eq.operands[1].axes, eq.productDims, bOrder)
		if err != nil {
			return err
		}
		out, err := newTensorDesc(op.plan.outputDims).reprojectToAxes(eq.output.axes, eq.productDims, outOrder)
		if err != nil {
			return err
		}
		op.plan.inputs = []tensorDesc{a, b}
		op.plan.output = out
		return nil
	}

	// Multiply, ReduceSum, Transpose: project everything onto the product
	// tensor; the output projection collapses reduced axes to size 1.
	op.plan.inputs = make([]tensorDesc, len(eq.operands))
	for i, operand := range eq.operands {
		desc, err := newTensorDesc(eq.operandDims[i]).reprojectToProduct(operand.axes, eq.productDims, false)
		if err != nil {
			return err
		}
		op.plan.inputs[i] = desc
	}
	out, err := newTensorDesc(op.plan.outputDims).reprojectToProduct(eq.output.axes, eq.productDims, true)
	if err != nil {
		return err
	}
	op.plan.output = out
	return nil
}

// Equation returns the equation text the operator was constructed from.
func (op *Operator) Equation() string { return op.eq.text }

// RecognizedType returns the primitive the equation was lowered to.
func (op *Operator) RecognizedType() RecognizedOpType { return op.plan.recognized }

// OutputDims returns the operator's output shape.
func (op *Operator) OutputDims() []int { return slices.Clone(op.plan.outputDims) }

// Signature implements kernels.Kernel: one input per operand plus the
// output, element type resolved per call.
func (op *Operator) Signature() kernels.Signature { return op.sig }

// Compute implements kernels.Kernel by executing the frozen plan. All
// state it touches beyond the arguments is read-only.
func (op *Operator) Compute(args *kernels.Args) error {
	dtype, err := args.InputDType(0)
	if err != nil {
		return err
	}
	switch dtype {
	case dtypes.Float32:
		return computeTyped[float32](op, args)
	case dtypes.Float64:
		return computeTyped[float64](op, args)
	case dtypes.Float16:
		return computeFloat16(op, args)
	default:
		return errors.Errorf("einsum %q: element type %s is not supported", op.eq.text, dtype)
	}
}

// gatherInputs fetches and validates the typed operand views: per-call
// shapes must match the static shapes the plan was built against.
func gatherInputs[T any](op *Operator, args *kernels.Args) ([][]T, error) {
	inputs := make([][]T, len(op.eq.operands))
	for i := range inputs {
		view, err := kernels.InputAt[T](args, i)
		if err != nil {
			return nil, errors.WithMessagef(err, "einsum %q", op.eq.text)
		}
		if !slices.Equal(view.Shape(), op.eq.operandDims[i]) {
			return nil, errors.Errorf("einsum %q: input #%d has shape %v, operator was constructed for %v",
				op.eq.text, i, view.Shape(), op.eq.operandDims[i])
		}
		if len(view.Data()) < kernels.ShapeSize(view.Shape()) {
			return nil, errors.Errorf("einsum %q: input #%d supplies %d elements for shape %v",
				op.eq.text, i, len(view.Data()), view.Shape())
		}
		inputs[i] = view.Data()
	}
	return inputs, nil
}

func computeTyped[T floatT](op *Operator, args *kernels.Args) error {
	inputs, err := gatherInputs[T](op, args)
	if err != nil {
		return err
	}
	out, err := kernels.OutputAt[T](args, 0)
	if err != nil {
		return errors.WithMessagef(err, "einsum %q", op.eq.text)
	}
	outData, err := out.Allocate(op.plan.outputDims)
	if err != nil {
		return errors.WithMessagef(err, "einsum %q", op.eq.text)
	}
	run(op, inputs, outData)
	return nil
}

// computeFloat16 widens half-precision operands to float32, runs the same
// plan, and narrows the result back into the allocated output.
func computeFloat16(op *Operator, args *kernels.Args) error {
	raw, err := gatherInputs[float16.Float16](op, args)
	if err != nil {
		return err
	}
	inputs := make([][]float32, len(raw))
	for i, buf := range raw {
		inputs[i] = f16ToF32(buf)
	}
	out, err := kernels.OutputAt[float16.Float16](args, 0)
	if err != nil {
		return errors.WithMessagef(err, "einsum %q", op.eq.text)
	}
	outData, err := out.Allocate(op.plan.outputDims)
	if err != nil {
		return errors.WithMessagef(err, "einsum %q", op.eq.text)
	}
	scratch := make([]float32, len(outData))
	run(op, inputs, scratch)
	f32ToF16(scratch, outData)
	return nil
}

// run dispatches the frozen plan onto the primitive executor.
func run[T floatT](op *Operator, inputs [][]T, out []T) {
	p := &op.plan
	switch {
	case p.recognized == RecognizedOpTypeIdentity:
		copy(out, inputs[0])
	case p.recognized == RecognizedOpTypeTranspose:
		execIdentity(op.eq.productDims, inputs[0], out, p.inputs[0], p.output)
	case p.recognized == RecognizedOpTypeReduceSum:
		execReduceSum(op.eq.productDims, inputs[0], out, p.inputs[0], p.output)
	case p.recognized == RecognizedOpTypeMultiply:
		execMultiply(op.eq.productDims, inputs[0], inputs[1], out, p.inputs[0], p.inputs[1], p.output)
	case p.recognized.IsMatMul():
		execGemm(inputs[0], inputs[1], out, p.inputs[0], p.inputs[1], p.output)
	}
}

// Register publishes the contraction kernel. The prototype signature
// covers the common two-operand form; each constructed instance reports
// its concrete operand count.
func Register(registry *kernels.Registry) error {
	_, err := registry.CreateBuilder().
		Provider(Provider).
		Domain(Domain).
		Name(OpName).
		SinceVersion(SinceVersion, kernels.VersionLast).
		TypeConstraint("T", dtypes.Float32, dtypes.Float64, dtypes.Float16).
		Struct(kernels.Signature{kernels.InAny(), kernels.InAny(), kernels.OutAny()}, New).
		Register()
	return err
}
