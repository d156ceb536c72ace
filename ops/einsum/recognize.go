package einsum

import (
	"math/bits"
	"slices"
)

// RecognizedOpType is the closed catalog of native primitive shapes a
// contraction equation can be losslessly rewritten into. Exactly one value
// is computed per equation instance, at construction time, and is
// immutable thereafter.
//
// Unsupported is not an error: it is the capability-negotiation signal
// telling the surrounding system to route the operator to a fallback
// implementation, produced before any kernel executes.
type RecognizedOpType int

//go:generate go tool enumer -type=RecognizedOpType -trimprefix=RecognizedOpType -output=gen_recognizedoptype_enumer.go recognize.go

const (
	RecognizedOpTypeUnsupported RecognizedOpType = iota
	RecognizedOpTypeIdentity
	RecognizedOpTypeTranspose
	RecognizedOpTypeReduceSum
	RecognizedOpTypeMultiply
	RecognizedOpTypeMatMul
	RecognizedOpTypeMatMulTransposeA
	RecognizedOpTypeMatMulTransposeB
	RecognizedOpTypeMatMulNhcw
	RecognizedOpTypeMatMulNhcwTransposeA
	RecognizedOpTypeMatMulNhcwTransposeB
	RecognizedOpTypeMatMulGeneral
)

// IsMatMul reports whether the type lowers to the GEMM primitive.
func (t RecognizedOpType) IsMatMul() bool {
	return t >= RecognizedOpTypeMatMul && t <= RecognizedOpTypeMatMulGeneral
}

// Limits of the native primitive set: GEMM integrates at most
// {batch, channel, height|width, reduction} so a matmul-shaped equation
// may name at most 5 distinct labels; the elementwise and reduction
// primitives integrate up to rank 8.
const (
	maxMatMulLabels = 5
	maxProductRank  = 8
)

// classify matches the resolved label structure against the primitive
// catalog using purely structural criteria: operand count, shared vs
// unique label sets, and whether the reduced label set is empty. It is
// deterministic in the equation text and operand ranks.
func classify(eq *equation) RecognizedOpType {
	switch len(eq.operands) {
	case 1:
		return classifyUnary(eq)
	case 2:
		return classifyBinary(eq)
	default:
		return RecognizedOpTypeUnsupported
	}
}

func classifyUnary(eq *equation) RecognizedOpType {
	if eq.numAxes() > maxProductRank {
		return RecognizedOpTypeUnsupported
	}
	in, out := &eq.operands[0], &eq.output
	reduced := eq.reducedAxes()
	if len(reduced) == 0 {
		// The output is a permutation of the input's distinct labels.
		if !in.hasRepeats() && slices.Equal(in.axes, out.axes) {
			return RecognizedOpTypeIdentity
		}
		// Includes diagonal views like "ii->i": the repeated label
		// projects to a single stride-accumulated axis.
		return RecognizedOpTypeTranspose
	}
	// Retained labels must keep their input order; a combined
	// reduce-and-permute is outside the catalog.
	var retained []int
	outMask := out.axisMask()
	for _, axis := range in.distinctAxes() {
		if outMask&(1<<axis) != 0 {
			retained = append(retained, axis)
		}
	}
	if slices.Equal(retained, out.axes) {
		return RecognizedOpTypeReduceSum
	}
	return RecognizedOpTypeUnsupported
}

func classifyBinary(eq *equation) RecognizedOpType {
	a, b, out := &eq.operands[0], &eq.operands[1], &eq.output
	reduced := eq.reducedAxes()

	if len(reduced) == 0 && slices.Equal(a.axes, b.axes) && slices.Equal(a.axes, out.axes) {
		if eq.numAxes() > maxProductRank {
			return RecognizedOpTypeUnsupported
		}
		return RecognizedOpTypeMultiply
	}

	// MatMul family: exactly one reduced label, shared by both operands,
	// at most one label unique to each operand, and at most two shared
	// retained labels (batch and channel).
	if eq.numAxes() > maxMatMulLabels || len(reduced) != 1 {
		return RecognizedOpTypeUnsupported
	}
	if a.hasRepeats() || b.hasRepeats() {
		return RecognizedOpTypeUnsupported
	}
	k := reduced[0]
	aMask, bMask := a.axisMask(), b.axisMask()
	if aMask&(1<<k) == 0 || bMask&(1<<k) == 0 {
		return RecognizedOpTypeUnsupported
	}
	var uniqueA, uniqueB, shared []int // shared retained, in first-seen order
	for axis := range eq.numAxes() {
		if axis == k {
			continue
		}
		inA, inB := aMask&(1<<axis) != 0, bMask&(1<<axis) != 0
		switch {
		case inA && inB:
			shared = append(shared, axis)
		case inA:
			uniqueA = append(uniqueA, axis)
		case inB:
			uniqueB = append(uniqueB, axis)
		}
	}
	if len(uniqueA) > 1 || len(uniqueB) > 1 || len(shared) > 2 {
		return RecognizedOpTypeUnsupported
	}

	m, n := -1, -1 // height (unique to A) and width (unique to B)
	if len(uniqueA) == 1 {
		m = uniqueA[0]
	}
	if len(uniqueB) == 1 {
		n = uniqueB[0]
	}
	transA := m >= 0 && slices.Index(a.axes, k) < slices.Index(a.axes, m)
	transB := n >= 0 && slices.Index(b.axes, n) < slices.Index(b.axes, k)

	// The named variants expect the output ordered [batch, channel, m, n]
	// (or the Nhcw interleaving [batch, m, channel, n]); anything else is
	// still GEMM-expressible through reprojection.
	nhcw := false
	switch {
	case slices.Equal(out.axes, expectedOutputOrder(shared, m, n, false)):
	case len(shared) == 2 && slices.Equal(out.axes, expectedOutputOrder(shared, m, n, true)):
		nhcw = true
	default:
		return RecognizedOpTypeMatMulGeneral
	}
	switch {
	case transA && transB:
		return RecognizedOpTypeMatMulGeneral
	case nhcw && transA:
		return RecognizedOpTypeMatMulNhcwTransposeA
	case nhcw && transB:
		return RecognizedOpTypeMatMulNhcwTransposeB
	case nhcw:
		return RecognizedOpTypeMatMulNhcw
	case transA:
		return RecognizedOpTypeMatMulTransposeA
	case transB:
		return RecognizedOpTypeMatMulTransposeB
	default:
		return RecognizedOpTypeMatMul
	}
}

func expectedOutputOrder(shared []int, m, n int, nhcw bool) []int {
	order := make([]int, 0, 4)
	if nhcw {
		order = append(order, shared[0])
		if m >= 0 {
			order = append(order, m)
		}
		order = append(order, shared[1])
	} else {
		order = append(order, shared...)
		if m >= 0 {
			order = append(order, m)
		}
	}
	if n >= 0 {
		order = append(order, n)
	}
	return order
}

// matmulAxes holds the canonical-axis role assignment for the GEMM
// projection. Roles assigned an index at or beyond the product rank stand
// for absent axes and project to size-1 slots.
type matmulAxes struct {
	reduction, height, width, batch, channel int
}

// pickMatMulAxes finds the interesting axes by elimination: the reduced
// axis is the one missing from the output; height and width are the axes
// missing from operand 1 and operand 0 respectively; batch and then
// channel are whatever shared axes remain.
func pickMatMulAxes(eq *equation) matmulAxes {
	remaining := ^uint64(0)
	findAndClear := func(constraint uint64) int {
		axis := bits.TrailingZeros64(remaining &^ constraint)
		remaining &^= 1 << axis
		return axis
	}
	return matmulAxes{
		reduction: findAndClear(eq.output.axisMask()),
		height:    findAndClear(eq.operands[1].axisMask()),
		width:     findAndClear(eq.operands[0].axisMask()),
		batch:     findAndClear(0),
		channel:   findAndClear(0),
	}
}
