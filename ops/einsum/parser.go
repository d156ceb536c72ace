package einsum

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// component is one operand's (or the output's) ordered list of axis
// labels, with each occurrence resolved to its canonical axis index.
type component struct {
	subscripts string
	labels     []rune
	axes       []int
}

func (c *component) hasAxis(axis int) bool {
	return slices.Contains(c.axes, axis)
}

// axisMask returns a bitmask with one bit per canonical axis mentioned.
func (c *component) axisMask() uint64 {
	var mask uint64
	for _, axis := range c.axes {
		mask |= 1 << axis
	}
	return mask
}

// distinctAxes returns the axes in first-occurrence order, repeats
// dropped.
func (c *component) distinctAxes() []int {
	distinct := make([]int, 0, len(c.axes))
	for _, axis := range c.axes {
		if !slices.Contains(distinct, axis) {
			distinct = append(distinct, axis)
		}
	}
	return distinct
}

// hasRepeats reports whether any label occurs more than once in this
// component (a diagonal, as in "ii").
func (c *component) hasRepeats() bool {
	return len(c.distinctAxes()) != len(c.axes)
}

// equation is the fully resolved label model of one Einstein-summation
// equation: per-operand components, the output component, the global
// label→canonical-axis assignment, and the product tensor dimensions.
// It is computed once at operator-construction time and never mutated.
type equation struct {
	text     string
	operands []component
	output   component

	// axisLabels maps each canonical axis index back to its label.
	axisLabels []rune

	// operandDims and productDims are nil when the equation was parsed
	// without runtime shapes (capability queries).
	operandDims [][]int
	productDims []int
}

// numAxes returns the number of distinct labels across the whole
// equation.
func (eq *equation) numAxes() int { return len(eq.axisLabels) }

// reducedAxes returns the canonical axes absent from the output, i.e.
// the implicitly summed ones, in ascending order.
func (eq *equation) reducedAxes() []int {
	var reduced []int
	outMask := eq.output.axisMask()
	for axis := range eq.numAxes() {
		if outMask&(1<<axis) == 0 {
			reduced = append(reduced, axis)
		}
	}
	return reduced
}

// outputDims returns the runtime dimensions of the output, one product
// dimension per output label. Requires the equation to have been parsed
// with shapes.
func (eq *equation) outputDims() []int {
	dims := make([]int, len(eq.output.axes))
	for i, axis := range eq.output.axes {
		dims[i] = eq.productDims[axis]
	}
	return dims
}

// parseEquation parses "subscripts[,subscripts][->subscripts]" and
// resolves every label to a canonical axis index, assigned in first-seen
// order scanning operands left to right, then the explicit output.
//
// operandShapes may be nil (capability queries); when given, it must have
// one shape per operand, each label count must equal the operand's rank,
// and all operands mentioning a label must agree on its size -- except
// that a size-1 occurrence broadcasts against a larger one.
func parseEquation(text string, operandShapes [][]int) (*equation, error) {
	compact := strings.ReplaceAll(text, " ", "")
	parts := strings.Split(compact, "->")
	if len(parts) > 2 {
		return nil, errors.Errorf("einsum equation %q has more than one \"->\"", text)
	}
	if parts[0] == "" {
		return nil, errors.Errorf("einsum equation %q has no operand subscripts", text)
	}

	eq := &equation{text: text}
	axisByLabel := make(map[rune]int)
	resolve := func(subscripts string) (component, error) {
		c := component{
			subscripts: subscripts,
			labels:     []rune(subscripts),
			axes:       make([]int, 0, len(subscripts)),
		}
		for _, label := range c.labels {
			if !isAxisLabel(label) {
				return c, errors.Errorf("einsum equation %q: invalid axis label %q, only ASCII letters are allowed", text, label)
			}
			axis, seen := axisByLabel[label]
			if !seen {
				axis = len(eq.axisLabels)
				axisByLabel[label] = axis
				eq.axisLabels = append(eq.axisLabels, label)
			}
			c.axes = append(c.axes, axis)
		}
		return c, nil
	}

	for _, subscripts := range strings.Split(parts[0], ",") {
		operand, err := resolve(subscripts)
		if err != nil {
			return nil, err
		}
		eq.operands = append(eq.operands, operand)
	}

	if len(parts) == 2 {
		output, err := resolve(parts[1])
		if err != nil {
			return nil, err
		}
		if output.hasRepeats() {
			return nil, errors.Errorf("einsum equation %q: output subscripts %q repeat a label", text, output.subscripts)
		}
		for i, axis := range output.axes {
			if !slices.ContainsFunc(eq.operands, func(op component) bool { return op.hasAxis(axis) }) {
				return nil, errors.Errorf("einsum equation %q: output label %q does not appear in any operand",
					text, output.labels[i])
			}
		}
		eq.output = output
	} else {
		eq.output = implicitOutput(eq)
	}

	if operandShapes != nil {
		if err := eq.resolveShapes(operandShapes); err != nil {
			return nil, err
		}
	}
	return eq, nil
}

// implicitOutput builds the output component when the equation has no
// "->" clause: all labels appearing in exactly one operand occurrence,
// sorted ascending; repeated labels are summed over.
func implicitOutput(eq *equation) component {
	counts := make(map[rune]int)
	for _, operand := range eq.operands {
		for _, label := range operand.labels {
			counts[label]++
		}
	}
	var labels []rune
	for label, count := range counts {
		if count == 1 {
			labels = append(labels, label)
		}
	}
	slices.Sort(labels)
	out := component{subscripts: string(labels), labels: labels}
	for _, label := range labels {
		out.axes = append(out.axes, slices.Index(eq.axisLabels, label))
	}
	return out
}

// resolveShapes validates operand ranks against their label counts and
// computes the product tensor dimensions: one size per distinct label,
// taken from whichever operand mentions it, with size-1 occurrences
// broadcasting against larger ones.
func (eq *equation) resolveShapes(operandShapes [][]int) error {
	if len(operandShapes) != len(eq.operands) {
		return errors.Errorf("einsum equation %q describes %d operands but %d shapes were given",
			eq.text, len(eq.operands), len(operandShapes))
	}
	productDims := make([]int, eq.numAxes())
	for i := range productDims {
		productDims[i] = -1
	}
	for opIdx, operand := range eq.operands {
		shape := operandShapes[opIdx]
		if len(operand.axes) != len(shape) {
			return errors.Errorf("einsum equation %q: operand %d has %d labels (%q) but rank %d",
				eq.text, opIdx, len(operand.axes), operand.subscripts, len(shape))
		}
		for pos, axis := range operand.axes {
			size := shape[pos]
			if size < 0 {
				return errors.Errorf("einsum equation %q: operand %d has negative dimension %d", eq.text, opIdx, size)
			}
			switch current := productDims[axis]; {
			case current == -1 || current == size:
				productDims[axis] = size
			case size == 1:
				// Broadcast: the size-1 occurrence keeps stride 0.
			case current == 1:
				productDims[axis] = size
			default:
				return errors.Errorf("einsum equation %q: label %q has conflicting sizes %d and %d",
					eq.text, eq.axisLabels[axis], current, size)
			}
		}
	}
	eq.operandDims = make([][]int, len(operandShapes))
	for i, shape := range operandShapes {
		eq.operandDims[i] = slices.Clone(shape)
	}
	eq.productDims = productDims
	return nil
}

func isAxisLabel(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
