package einsum

import (
	"github.com/x448/float16"
)

// floatT are the element types the primitives compute on natively.
// Float16 buffers are converted through float32 (see computeFloat16).
type floatT interface {
	float32 | float64
}

// multiIter walks every coordinate of a space (odometer-style, outermost
// axis slowest) while tracking one flat offset per attached desc. Descs
// must share the space's rank; broadcast and reduced axes participate
// through their stride-0 entries.
type multiIter struct {
	dims     []int
	counters []int
	descs    []tensorDesc
	offsets  []int
	done     bool
}

func newMultiIter(dims []int, descs ...tensorDesc) *multiIter {
	it := &multiIter{
		dims:     dims,
		counters: make([]int, len(dims)),
		descs:    descs,
		offsets:  make([]int, len(descs)),
	}
	it.done = size(dims) == 0
	return it
}

func size(dims []int) int {
	total := 1
	for _, dim := range dims {
		total *= dim
	}
	return total
}

func (it *multiIter) next() {
	for axis := len(it.dims) - 1; axis >= 0; axis-- {
		it.counters[axis]++
		for d := range it.descs {
			it.offsets[d] += it.descs[d].strides[axis]
		}
		if it.counters[axis] < it.dims[axis] {
			return
		}
		it.counters[axis] = 0
		for d := range it.descs {
			it.offsets[d] -= it.descs[d].strides[axis] * it.dims[axis]
		}
	}
	it.done = true
}

// execMultiply computes the elementwise product of two product-projected
// views into the output view, iterating the full product space.
func execMultiply[T floatT](productDims []int, a, b, out []T, aDesc, bDesc, outDesc tensorDesc) {
	for it := newMultiIter(productDims, aDesc, bDesc, outDesc); !it.done; it.next() {
		out[it.offsets[2]] = a[it.offsets[0]] * b[it.offsets[1]]
	}
}

// execIdentity copies the input view into the output view across the
// product space. With reprojected descs this serves transposes and
// diagonal views; with matching packed descs it is a plain copy.
func execIdentity[T floatT](productDims []int, in, out []T, inDesc, outDesc tensorDesc) {
	for it := newMultiIter(productDims, inDesc, outDesc); !it.done; it.next() {
		out[it.offsets[1]] = in[it.offsets[0]]
	}
}

// execReduceSum accumulates the input view into the output view. The
// output projection carries stride 0 on every reduced axis, so walking the
// full product space sums reduced coordinates in place.
func execReduceSum[T floatT](productDims []int, in, out []T, inDesc, outDesc tensorDesc) {
	clear(out[:size(outDesc.dims)])
	for it := newMultiIter(productDims, inDesc, outDesc); !it.done; it.next() {
		out[it.offsets[1]] += in[it.offsets[0]]
	}
}

// execGemm contracts the trailing axis of two {batch, channel, m|n, k}
// projections: out[g,c,i,j] = sum_k a[g,c,i,k] * b[g,c,j,k]. This is the
// transposed-B orientation the reprojection always normalizes to.
func execGemm[T floatT](a, b, out []T, aDesc, bDesc, outDesc tensorDesc) {
	batches, channels := outDesc.dims[0], outDesc.dims[1]
	heights, widths := outDesc.dims[2], outDesc.dims[3]
	contraction := aDesc.dims[3]
	for g := range batches {
		for c := range channels {
			aBase := g*aDesc.strides[0] + c*aDesc.strides[1]
			bBase := g*bDesc.strides[0] + c*bDesc.strides[1]
			outBase := g*outDesc.strides[0] + c*outDesc.strides[1]
			for i := range heights {
				aRow := aBase + i*aDesc.strides[2]
				outRow := outBase + i*outDesc.strides[2]
				for j := range widths {
					bRow := bBase + j*bDesc.strides[2]
					var acc T
					for k := range contraction {
						acc += a[aRow+k*aDesc.strides[3]] * b[bRow+k*bDesc.strides[3]]
					}
					out[outRow+j*outDesc.strides[3]] = acc
				}
			}
		}
	}
}

// float16 buffers are widened to float32 for the computation and narrowed
// back on the way out, matching how the rest of the stack treats half
// precision.

func f16ToF32(src []float16.Float16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = v.Float32()
	}
	return dst
}

func f32ToF16(src []float32, dst []float16.Float16) {
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v)
	}
}
