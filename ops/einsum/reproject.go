package einsum

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// tensorDesc describes a strided view over a flat, packed buffer: one size
// and one element stride per axis, outermost first. Reprojection rewrites
// descs only; it never moves data.
type tensorDesc struct {
	dims    []int
	strides []int
}

// packedStrides returns the row-major strides of a densely packed tensor
// with the given dimensions.
func packedStrides(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}

// newTensorDesc describes a densely packed tensor of the given dimensions.
func newTensorDesc(dims []int) tensorDesc {
	return tensorDesc{dims: slices.Clone(dims), strides: packedStrides(dims)}
}

func (d tensorDesc) rank() int { return len(d.dims) }

// String implements fmt.Stringer.
func (d tensorDesc) String() string {
	return fmt.Sprintf("dims=%v strides=%v", d.dims, d.strides)
}

// reprojectToProduct rewrites the desc so it is shape-compatible with the
// product tensor: the new rank is the number of distinct labels in the
// whole equation.
//
// Axes this view does not reference broadcast with stride 0; their size is
// the product dimension, or 1 when reduced is true (the output projection,
// which collapses summed axes). Axes referenced more than once (a repeated
// label, as in "ii->i") accumulate the stride of every occurrence, which
// extracts the diagonal without materializing a copy. A size-1 occurrence
// against a larger product dimension keeps size and stride of a broadcast.
func (d tensorDesc) reprojectToProduct(axes []int, productDims []int, reduced bool) (tensorDesc, error) {
	if len(axes) != d.rank() {
		return tensorDesc{}, errors.Errorf("reprojecting %v: %d axis labels for rank %d", d, len(axes), d.rank())
	}
	newRank := len(productDims)
	newDims := make([]int, newRank)
	newStrides := make([]int, newRank) // 0 broadcasts missing axes
	if reduced {
		for axis := range newDims {
			newDims[axis] = 1
		}
	} else {
		copy(newDims, productDims)
	}
	for pos, axis := range axes {
		if axis < 0 || axis >= newRank {
			return tensorDesc{}, errors.Errorf("reprojecting %v: axis %d outside product rank %d", d, axis, newRank)
		}
		size := d.dims[pos]
		if size == 1 && productDims[axis] != 1 {
			// Broadcast occurrence: keep the product size and stride 0.
			continue
		}
		if size != productDims[axis] {
			return tensorDesc{}, errors.Errorf("reprojecting %v: size %d at axis %d conflicts with product dimension %d",
				d, size, axis, productDims[axis])
		}
		newDims[axis] = size
		newStrides[axis] += d.strides[pos] // accumulate repeated labels
	}
	return tensorDesc{dims: newDims, strides: newStrides}, nil
}

// reprojectToAxes reprojects to the product tensor and then permutes the
// result into the explicit axis ordering a fixed-signature primitive
// requires (e.g. the trailing-axis contraction of GEMM). Requested axes at
// or beyond the product rank yield size-1, stride-0 slots, so a low-rank
// equation still fills the primitive's full operand layout.
func (d tensorDesc) reprojectToAxes(axes []int, productDims []int, order []int) (tensorDesc, error) {
	product, err := d.reprojectToProduct(axes, productDims, false)
	if err != nil {
		return tensorDesc{}, err
	}
	newDims := make([]int, len(order))
	newStrides := make([]int, len(order))
	for pos, axis := range order {
		if axis < len(productDims) {
			newDims[pos] = product.dims[axis]
			newStrides[pos] = product.strides[axis]
		} else {
			newDims[pos] = 1
		}
	}
	return tensorDesc{dims: newDims, strides: newStrides}, nil
}
