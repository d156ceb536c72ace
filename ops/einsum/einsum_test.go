package einsum

import (
	"sync"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/weft-ml/weft/kernels"
)

// execContext implements kernels.Context over in-memory slices of one
// element type.
type execContext[T any] struct {
	inputs   [][]T
	shapes   [][]int
	out      []T
	outShape []int
	allocs   int
}

func (c *execContext[T]) InputData(index int) (any, error) {
	if index < 0 || index >= len(c.inputs) {
		return nil, errors.Errorf("no input #%d", index)
	}
	return c.inputs[index], nil
}

func (c *execContext[T]) InputShape(index int) (kernels.TensorShape, error) {
	if index < 0 || index >= len(c.shapes) {
		return nil, errors.Errorf("no input #%d", index)
	}
	return c.shapes[index], nil
}

func (c *execContext[T]) AllocateOutput(index int, shape kernels.TensorShape) (any, error) {
	if index != 0 {
		return nil, errors.Errorf("no output #%d", index)
	}
	c.allocs++
	c.out = make([]T, kernels.ShapeSize(shape))
	c.outShape = append([]int{}, shape...)
	return c.out, nil
}

// opInfo is the initialization metadata fed to the kernel factory.
type opInfo struct {
	equation string
	shapes   [][]int
}

func (i opInfo) Attr(name string) (string, error) {
	if name != EquationAttr {
		return "", errors.Errorf("no attribute %q", name)
	}
	return i.equation, nil
}

func (i opInfo) NumInputs() int { return len(i.shapes) }

func (i opInfo) InputShape(index int) (kernels.TensorShape, error) {
	if index < 0 || index >= len(i.shapes) {
		return nil, errors.Errorf("no input #%d", index)
	}
	return i.shapes[index], nil
}

func newEinsumRegistry(t *testing.T) *kernels.Registry {
	t.Helper()
	registry := kernels.NewRegistry()
	require.NoError(t, Register(registry))
	registry.Freeze()
	return registry
}

// evalEquation runs one equation end to end through the registry, the
// struct-kernel factory and the binder.
func evalEquation[T any](t *testing.T, equation string, shapes [][]int, inputs ...[]T) ([]T, []int) {
	t.Helper()
	registry := newEinsumRegistry(t)
	def, ok := registry.Resolve(Provider, Domain, OpName, SinceVersion)
	require.True(t, ok)
	instance := must.M1(def.NewInstance(opInfo{equation: equation, shapes: shapes}))
	ctx := &execContext[T]{inputs: inputs, shapes: shapes}
	require.NoError(t, instance.Compute(ctx))
	require.Equal(t, 1, ctx.allocs)
	return ctx.out, ctx.outShape
}

// seq fills a deterministic, non-symmetric test buffer.
func seq(n int) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64((i*7)%11) - 3.5
	}
	return data
}

func seq32(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i%7) - 2.5
	}
	return data
}

func transposed(rows, cols int, data []float64) []float64 {
	out := make([]float64, len(data))
	for i := range rows {
		for j := range cols {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out
}

func TestMatMulMatchesGonum(t *testing.T) {
	const m, k, n = 3, 4, 5
	a, b := seq(m*k), seq(k*n)
	var want mat.Dense
	want.Mul(mat.NewDense(m, k, a), mat.NewDense(k, n, b))

	got, shape := evalEquation(t, "ij,jk->ik", [][]int{{m, k}, {k, n}}, a, b)
	assert.Equal(t, []int{m, n}, shape)
	assert.InDeltaSlice(t, want.RawMatrix().Data, got, 1e-12)
}

func TestMatMulTransposedOperands(t *testing.T) {
	const m, k, n = 3, 4, 5
	a, b := seq(m*k), seq(k*n)
	var want mat.Dense
	want.Mul(mat.NewDense(m, k, a), mat.NewDense(k, n, b))

	tests := []struct {
		equation string
		shapes   [][]int
		inputs   [][]float64
	}{
		{"ji,jk->ik", [][]int{{k, m}, {k, n}}, [][]float64{transposed(m, k, a), b}},
		{"ij,kj->ik", [][]int{{m, k}, {n, k}}, [][]float64{a, transposed(k, n, b)}},
		{"ji,kj->ik", [][]int{{k, m}, {n, k}}, [][]float64{transposed(m, k, a), transposed(k, n, b)}},
	}
	for _, test := range tests {
		got, shape := evalEquation(t, test.equation, test.shapes, test.inputs...)
		assert.Equal(t, []int{m, n}, shape, test.equation)
		assert.InDeltaSlice(t, want.RawMatrix().Data, got, 1e-12, test.equation)
	}
}

func TestMatMulGeneralOutputOrder(t *testing.T) {
	const m, k, n = 2, 3, 4
	a, b := seq(m*k), seq(k*n)
	var product mat.Dense
	product.Mul(mat.NewDense(m, k, a), mat.NewDense(k, n, b))
	want := transposed(m, n, product.RawMatrix().Data)

	got, shape := evalEquation(t, "ij,jk->ki", [][]int{{m, k}, {k, n}}, a, b)
	assert.Equal(t, []int{n, m}, shape)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestBatchedMatMul(t *testing.T) {
	const batches, m, k, n = 2, 3, 4, 5
	a, b := seq(batches*m*k), seq(batches*k*n)
	want := make([]float64, batches*m*n)
	for g := range batches {
		var prod mat.Dense
		prod.Mul(mat.NewDense(m, k, a[g*m*k:(g+1)*m*k]), mat.NewDense(k, n, b[g*k*n:(g+1)*k*n]))
		copy(want[g*m*n:], prod.RawMatrix().Data)
	}

	got, shape := evalEquation(t, "bij,bjk->bik", [][]int{{batches, m, k}, {batches, k, n}}, a, b)
	assert.Equal(t, []int{batches, m, n}, shape)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestNhcwMatMul(t *testing.T) {
	// Batch and channel interleave with the matrix axes; the reprojection
	// must still feed GEMM a canonical {batch, channel, m|n, k} layout.
	const ba, h, ch, k, w = 2, 2, 2, 3, 2
	a, b := seq(ba*h*ch*k), seq(ba*k*ch*w) // shapes [a,i,b,j] and [a,j,b,k]
	at := func(g, i, c, j int) float64 { return a[((g*h+i)*ch+c)*k+j] }
	bt := func(g, j, c, x int) float64 { return b[((g*k+j)*ch+c)*w+x] }
	want := make([]float64, ba*h*ch*w)
	for g := range ba {
		for i := range h {
			for c := range ch {
				for x := range w {
					var acc float64
					for j := range k {
						acc += at(g, i, c, j) * bt(g, j, c, x)
					}
					want[((g*h+i)*ch+c)*w+x] = acc
				}
			}
		}
	}

	got, shape := evalEquation(t, "aibj,ajbk->aibk",
		[][]int{{ba, h, ch, k}, {ba, k, ch, w}}, a, b)
	assert.Equal(t, []int{ba, h, ch, w}, shape)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestInnerProduct(t *testing.T) {
	a, b := seq(6), seq(6)
	got, shape := evalEquation(t, "i,i->", [][]int{{6}, {6}}, a, b)
	assert.Empty(t, shape)
	require.Len(t, got, 1)
	assert.InDelta(t, floats.Dot(a, b), got[0], 1e-12)
}

func TestMatrixVectorProduct(t *testing.T) {
	const m, k = 3, 4
	a, v := seq(m*k), seq(k)
	var want mat.VecDense
	want.MulVec(mat.NewDense(m, k, a), mat.NewVecDense(k, v))

	got, shape := evalEquation(t, "ij,j->i", [][]int{{m, k}, {k}}, a, v)
	assert.Equal(t, []int{m}, shape)
	assert.InDeltaSlice(t, want.RawVector().Data, got, 1e-12)
}

func TestDiagonal(t *testing.T) {
	data := seq(9)
	got, shape := evalEquation(t, "ii->i", [][]int{{3, 3}}, data)
	assert.Equal(t, []int{3}, shape)
	assert.Equal(t, []float64{data[0], data[4], data[8]}, got)
}

func TestTrace(t *testing.T) {
	data := seq(16)
	got, shape := evalEquation(t, "ii->", [][]int{{4, 4}}, data)
	assert.Empty(t, shape)
	require.Len(t, got, 1)
	assert.InDelta(t, mat.Trace(mat.NewDense(4, 4, data)), got[0], 1e-12)
}

func TestTranspose(t *testing.T) {
	const rows, cols = 2, 3
	data := seq(rows * cols)
	got, shape := evalEquation(t, "ij->ji", [][]int{{rows, cols}}, data)
	assert.Equal(t, []int{cols, rows}, shape)
	assert.Equal(t, transposed(rows, cols, data), got)
}

func TestIdentityCopies(t *testing.T) {
	data := seq(6)
	got, shape := evalEquation(t, "ij->ij", [][]int{{2, 3}}, data)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, data, got)
	assert.NotSame(t, &data[0], &got[0])
}

func TestReduceSum(t *testing.T) {
	// [[1,2,3],[4,5,6]] with row and column sums.
	data := []float64{1, 2, 3, 4, 5, 6}

	rows, shape := evalEquation(t, "ij->i", [][]int{{2, 3}}, data)
	assert.Equal(t, []int{2}, shape)
	assert.InDeltaSlice(t, []float64{6, 15}, rows, 1e-12)

	cols, shape := evalEquation(t, "ij->j", [][]int{{2, 3}}, data)
	assert.Equal(t, []int{3}, shape)
	assert.InDeltaSlice(t, []float64{5, 7, 9}, cols, 1e-12)
}

func TestElementwiseMultiply(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{10, 20, 30, 40}
	got, shape := evalEquation(t, "ij,ij->ij", [][]int{{2, 2}, {2, 2}}, a, b)
	assert.Equal(t, []int{2, 2}, shape)
	assert.InDeltaSlice(t, []float64{10, 40, 90, 160}, got, 1e-12)
}

func TestElementwiseMultiplyBroadcasts(t *testing.T) {
	row := []float64{1, 2, 3}
	full := []float64{10, 20, 30, 40, 50, 60}
	got, shape := evalEquation(t, "ij,ij->ij", [][]int{{1, 3}, {2, 3}}, row, full)
	assert.Equal(t, []int{2, 3}, shape)
	assert.InDeltaSlice(t, []float64{10, 40, 90, 40, 100, 180}, got, 1e-12)
}

func TestImplicitOutputEquation(t *testing.T) {
	const m, k, n = 2, 3, 2
	a, b := seq(m*k), seq(k*n)
	explicit, _ := evalEquation(t, "ij,jk->ik", [][]int{{m, k}, {k, n}}, a, b)
	implicit, shape := evalEquation(t, "ij,jk", [][]int{{m, k}, {k, n}}, a, b)
	assert.Equal(t, []int{m, n}, shape)
	assert.Equal(t, explicit, implicit)
}

func TestFloat32MatMul(t *testing.T) {
	const m, k, n = 2, 3, 4
	a, b := seq32(m*k), seq32(k*n)
	want := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var acc float32
			for x := range k {
				acc += a[i*k+x] * b[x*n+j]
			}
			want[i*n+j] = acc
		}
	}
	got, shape := evalEquation(t, "ij,jk->ik", [][]int{{m, k}, {k, n}}, a, b)
	assert.Equal(t, []int{m, n}, shape)
	assert.InDeltaSlice(t, want, got, 1e-5)
}

func TestFloat16MatMul(t *testing.T) {
	// Small integers stay exact through the float32 round trip.
	toF16 := func(values ...float32) []float16.Float16 {
		out := make([]float16.Float16, len(values))
		for i, v := range values {
			out[i] = float16.Fromfloat32(v)
		}
		return out
	}
	a := toF16(1, 2, 3, 4)        // 2x2
	b := toF16(5, 6, 7, 8)        // 2x2
	want := toF16(19, 22, 43, 50) // [[1,2],[3,4]] x [[5,6],[7,8]]

	got, shape := evalEquation(t, "ij,jk->ik", [][]int{{2, 2}, {2, 2}}, a, b)
	assert.Equal(t, []int{2, 2}, shape)
	assert.Equal(t, want, got)
}

func TestUnsupportedEquationFailsConstruction(t *testing.T) {
	_, err := NewOperator("ij,ji->ij", [][]int{{2, 3}, {3, 2}})
	require.ErrorContains(t, err, "not supported")

	_, err = NewOperator("ij,jk,kl->il", [][]int{{2, 2}, {2, 2}, {2, 2}})
	require.ErrorContains(t, err, "not supported")
}

func TestMalformedEquationFailsConstruction(t *testing.T) {
	_, err := NewOperator("ij->jk->ki", [][]int{{2, 3}})
	require.Error(t, err)

	_, err = NewOperator("ij,jk->ik", [][]int{{2, 3}, {4, 5}})
	require.ErrorContains(t, err, "conflicting sizes")
}

func TestComputeRejectsShapeDrift(t *testing.T) {
	op := must.M1(NewOperator("ij,jk->ik", [][]int{{2, 3}, {3, 4}}))
	ctx := &execContext[float64]{
		inputs: [][]float64{seq(12), seq(12)},
		shapes: [][]int{{4, 3}, {3, 4}},
	}
	args := bindArgs(t, op, ctx)
	err := op.Compute(args)
	require.ErrorContains(t, err, "operator was constructed for")
}

// bindArgs runs the operator through an Instance but intercepts at the
// kernel boundary to exercise Compute directly.
func bindArgs(t *testing.T, op *Operator, ctx kernels.Context) *kernels.Args {
	t.Helper()
	var captured *kernels.Args
	probe := &probeKernel{sig: op.Signature(), capture: func(args *kernels.Args) { captured = args }}
	registry := kernels.NewRegistry()
	def := registry.CreateBuilder().
		Provider("test").Name("Probe").
		Struct(probe.sig, func(kernels.Info) (kernels.Kernel, error) { return probe, nil }).
		MustRegister()
	instance := must.M1(def.NewInstance(opInfo{shapes: make([][]int, op.Signature().NumInputs())}))
	require.NoError(t, instance.Compute(ctx))
	require.NotNil(t, captured)
	return captured
}

type probeKernel struct {
	sig     kernels.Signature
	capture func(*kernels.Args)
}

func (k *probeKernel) Signature() kernels.Signature { return k.sig }

func (k *probeKernel) Compute(args *kernels.Args) error {
	k.capture(args)
	return nil
}

func TestUnsupportedElementType(t *testing.T) {
	op := must.M1(NewOperator("ij->ij", [][]int{{2, 2}}))
	ctx := &execContext[int32]{
		inputs: [][]int32{{1, 2, 3, 4}},
		shapes: [][]int{{2, 2}},
	}
	args := bindArgs(t, op, ctx)
	err := op.Compute(args)
	require.ErrorContains(t, err, "not supported")
}

func TestConcurrentCompute(t *testing.T) {
	const m, k, n = 4, 5, 6
	a, b := seq(m*k), seq(k*n)
	var want mat.Dense
	want.Mul(mat.NewDense(m, k, a), mat.NewDense(k, n, b))

	registry := newEinsumRegistry(t)
	def, ok := registry.Resolve(Provider, Domain, OpName, SinceVersion)
	require.True(t, ok)
	instance := must.M1(def.NewInstance(opInfo{
		equation: "ij,jk->ik",
		shapes:   [][]int{{m, k}, {k, n}},
	}))

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*execContext[float64], workers)
	errs := make([]error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := &execContext[float64]{
				inputs: [][]float64{a, b},
				shapes: [][]int{{m, k}, {k, n}},
			}
			results[w] = ctx
			errs[w] = instance.Compute(ctx)
		}()
	}
	wg.Wait()
	for w := range workers {
		require.NoError(t, errs[w], "worker %d", w)
		assert.InDeltaSlice(t, want.RawMatrix().Data, results[w].out, 1e-12, "worker %d", w)
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		equation string
		ranks    []int
		want     RecognizedOpType
	}{
		{"ij,jk->ik", []int{2, 2}, RecognizedOpTypeMatMul},
		{"bij,bjk->bik", []int{3, 3}, RecognizedOpTypeMatMul},
		{"ij->ji", []int{2}, RecognizedOpTypeTranspose},
		{"ij,ij->ij", []int{2, 2}, RecognizedOpTypeMultiply},
		{"ij,ji->ij", []int{2, 2}, RecognizedOpTypeUnsupported},
		{"ij,jk->ik", []int{3, 2}, RecognizedOpTypeUnsupported}, // rank drift
		{"ij,jk->ik", []int{2}, RecognizedOpTypeUnsupported},    // operand count drift
		{"ij->jk->ki", []int{2}, RecognizedOpTypeUnsupported},   // malformed
	}
	for _, test := range tests {
		assert.Equal(t, test.want, Query(test.equation, test.ranks),
			"equation %q ranks %v", test.equation, test.ranks)
	}
}

func TestOperatorAccessors(t *testing.T) {
	op := must.M1(NewOperator("bij,bjk->bik", [][]int{{2, 3, 4}, {2, 4, 5}}))
	assert.Equal(t, "bij,bjk->bik", op.Equation())
	assert.Equal(t, RecognizedOpTypeMatMul, op.RecognizedType())
	assert.Equal(t, []int{2, 3, 5}, op.OutputDims())
	assert.Equal(t, 2, op.Signature().NumInputs())
	assert.Equal(t, 1, op.Signature().NumOutputs())
}

func TestRegisterPublishesTheKernel(t *testing.T) {
	registry := newEinsumRegistry(t)

	def, ok := registry.Resolve(Provider, Domain, OpName, SinceVersion)
	require.True(t, ok)
	assert.Equal(t, Provider, def.Provider())
	assert.Equal(t, Domain, def.Domain())
	assert.Equal(t, OpName, def.Name())
	assert.Len(t, def.TypeConstraint("T"), 3)

	_, ok = registry.Resolve(Provider, Domain, OpName, SinceVersion-1)
	assert.False(t, ok, "versions before %d are not served", SinceVersion)
	_, ok = registry.Resolve(Provider, Domain, OpName, 1000)
	assert.True(t, ok, "the range is open-ended")
}

func TestNativeCapabilitiesClone(t *testing.T) {
	caps := NativeCapabilities()
	assert.True(t, caps.Operations[RecognizedOpTypeMatMul])
	assert.False(t, caps.Operations[RecognizedOpTypeUnsupported])

	caps.Operations[RecognizedOpTypeMatMul] = false
	assert.True(t, NativeCapabilities().Operations[RecognizedOpTypeMatMul],
		"mutating a clone must not leak into the shared capability table")
}
