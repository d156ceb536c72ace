package einsum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackedStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, packedStrides([]int{2, 3, 4}))
	assert.Equal(t, []int{1}, packedStrides([]int{7}))
	assert.Empty(t, packedStrides(nil))
}

func TestReprojectToProductBroadcastsMissingAxes(t *testing.T) {
	// Operand "jk" of "ij,jk->ik" with product space {i:2, j:3, k:4}.
	desc, err := newTensorDesc([]int{3, 4}).reprojectToProduct([]int{1, 2}, []int{2, 3, 4}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, desc.dims)
	assert.Equal(t, []int{0, 4, 1}, desc.strides)
}

func TestReprojectToProductCollapsesReducedOutputAxes(t *testing.T) {
	// Output "i" of "ij->i": the summed axis j becomes a size-1, stride-0
	// slot so accumulation lands on the same element.
	desc, err := newTensorDesc([]int{2}).reprojectToProduct([]int{0}, []int{2, 3}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, desc.dims)
	assert.Equal(t, []int{1, 0}, desc.strides)
}

func TestReprojectToProductAccumulatesRepeatedLabels(t *testing.T) {
	// Operand "ii" of "ii->i": both occurrences land on the same product
	// axis and their strides add up, stepping the diagonal.
	desc, err := newTensorDesc([]int{3, 3}).reprojectToProduct([]int{0, 0}, []int{3}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, desc.dims)
	assert.Equal(t, []int{4}, desc.strides)
}

func TestReprojectToProductBroadcastsSizeOneOccurrences(t *testing.T) {
	// A size-1 occurrence against a larger product dimension keeps the
	// product size and contributes stride 0.
	desc, err := newTensorDesc([]int{1, 3}).reprojectToProduct([]int{0, 1}, []int{2, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, desc.dims)
	assert.Equal(t, []int{0, 1}, desc.strides)
}

func TestReprojectToProductErrors(t *testing.T) {
	_, err := newTensorDesc([]int{2, 3}).reprojectToProduct([]int{0}, []int{2, 3}, false)
	require.ErrorContains(t, err, "axis labels for rank")

	_, err = newTensorDesc([]int{2, 3}).reprojectToProduct([]int{0, 5}, []int{2, 3}, false)
	require.ErrorContains(t, err, "outside product rank")

	_, err = newTensorDesc([]int{2, 4}).reprojectToProduct([]int{0, 1}, []int{2, 3}, false)
	require.ErrorContains(t, err, "conflicts with product dimension")
}

func TestReprojectToAxesBuildsGemmViews(t *testing.T) {
	// "bij,bjk->bik" with shapes [2,3,4] and [2,4,5]: labels resolve
	// b=0, i=1, j=2, k=3 with product {2,3,4,5}; the channel role (axis 4)
	// is absent and projects to a size-1, stride-0 slot.
	productDims := []int{2, 3, 4, 5}

	a, err := newTensorDesc([]int{2, 3, 4}).reprojectToAxes([]int{0, 1, 2}, productDims, []int{0, 4, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3, 4}, a.dims)
	assert.Equal(t, []int{12, 0, 4, 1}, a.strides)

	b, err := newTensorDesc([]int{2, 4, 5}).reprojectToAxes([]int{0, 2, 3}, productDims, []int{0, 4, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 5, 4}, b.dims)
	assert.Equal(t, []int{20, 0, 1, 5}, b.strides)

	out, err := newTensorDesc([]int{2, 3, 5}).reprojectToAxes([]int{0, 1, 3}, productDims, []int{0, 4, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3, 5}, out.dims)
	assert.Equal(t, []int{15, 0, 5, 1}, out.strides)
}

func TestMultiIterWalksOffsetsByStride(t *testing.T) {
	// Transposing a 2x3 tensor: the input view is iterated column-major
	// while the output stays packed.
	in := tensorDesc{dims: []int{3, 2}, strides: []int{1, 3}}
	out := newTensorDesc([]int{3, 2})
	var inOffsets, outOffsets []int
	for it := newMultiIter([]int{3, 2}, in, out); !it.done; it.next() {
		inOffsets = append(inOffsets, it.offsets[0])
		outOffsets = append(outOffsets, it.offsets[1])
	}
	assert.Equal(t, []int{0, 3, 1, 4, 2, 5}, inOffsets)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, outOffsets)
}

func TestMultiIterEmptySpace(t *testing.T) {
	it := newMultiIter([]int{2, 0, 3}, newTensorDesc([]int{2, 0, 3}))
	assert.True(t, it.done)

	// A rank-0 space holds exactly one (scalar) coordinate.
	count := 0
	for it := newMultiIter(nil); !it.done; it.next() {
		count++
	}
	assert.Equal(t, 1, count)
}
