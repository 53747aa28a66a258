package prednet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func paramsOf(p *PredNet, v float32) paramsMap {
	params := make(paramsMap, len(p.Model()))
	for _, n := range p.Model() {
		data := make([]float32, n.Shape().TotalSize())
		for i := range data {
			data[i] = v
		}
		params[n.Name()] = data
	}
	return params
}

func TestPredNet_letParams(t *testing.T) {
	conf := smallConf()
	p, err := New(conf)
	require.NoError(t, err)

	require.NoError(t, p.letParams(paramsOf(p, 0.5)))
	for _, n := range p.Model() {
		for _, v := range n.Value().Data().([]float32) {
			if v != 0.5 {
				t.Fatalf("%v was not set", n.Name())
			}
		}
	}

	params := paramsOf(p, 1)
	delete(params, "R_layers.1.Whf.weight")
	params["Ahat_layers.2.conv.bias"] = []float32{1}
	params["R_layers.1.Wci.weight"] = []float32{1}
	err = p.letParams(params)
	require.Error(t, err)
	errs, ok := err.(manyErr)
	require.True(t, ok)
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), `"R_layers.1.Whf.weight" not found`)
	assert.Contains(t, err.Error(), `"Ahat_layers.2.conv.bias" has 1 elements`)
	assert.Contains(t, err.Error(), "unexpected parameters [R_layers.1.Wci.weight]")
}

func TestContiguous(t *testing.T) {
	assert.True(t, contiguous([]int{4, 3, 3, 3}, []int{27, 9, 3, 1}))
	assert.True(t, contiguous([]int{1, 8, 1, 1}, []int{8, 1, 1, 1}))
	assert.False(t, contiguous([]int{3, 4}, []int{1, 3}))
}

func TestNearest(t *testing.T) {
	// 2 -> 5 picks 0 0 0 1 1
	n := nearest(2, 5)
	assert.Equal(t, []float32{
		1, 1, 1, 0, 0,
		0, 0, 0, 1, 1,
	}, n.Data())
}

func TestRepeatCols(t *testing.T) {
	assert.Equal(t, []float32{
		1, 0, 1, 0,
		0, 1, 0, 1,
	}, repeatCols(2, 2).Data())
}

func TestMaebe_upsample(t *testing.T) {
	g := G.NewGraph()
	x := G.NewTensor(g, Float, 4, G.WithShape(1, 1, 2, 2), G.WithName("x"),
		G.WithValue(tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float32{1, 2, 3, 4}))))

	var m maebe
	y := m.upsample(x, 4, 4)
	require.NoError(t, m.err)
	assert.True(t, tensor.Shape{1, 1, 4, 4}.Eq(y.Shape()), "got %v", y.Shape())

	var out G.Value
	G.Read(y, &out)
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, out.Data())

	var odd maebe
	assert.Nil(t, odd.upsample(x, 3, 4))
	assert.Error(t, odd.err)
}

// Every input pixel is copied into a 2x2 block, so the gradient of the sum
// of the upsampled map is 4 everywhere, also when it goes through a concat.
func TestMaebe_upsampleGrad(t *testing.T) {
	g := G.NewGraph()
	x := G.NewTensor(g, Float, 4, G.WithShape(2, 1, 2, 3), G.WithName("x"), G.WithInit(G.Uniform(0, 1)))
	e := G.NewTensor(g, Float, 4, G.WithShape(2, 2, 4, 6), G.WithName("e"), G.WithInit(G.Uniform(0, 1)))

	var m maebe
	y := m.concat(1, e, m.upsample(x, 4, 6))
	cost := m.do(func() (*G.Node, error) { return G.Sum(y) })
	require.NoError(t, m.err, "%+v", m.err)
	_, err := G.Grad(cost, x)
	require.NoError(t, err, "%+v", err)

	vm := G.NewTapeMachine(g, G.BindDualValues(x))
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	grad, err := x.Grad()
	require.NoError(t, err)
	for i, v := range grad.Data().([]float32) {
		assert.InDelta(t, 4, v, 1e-6, "%d", i)
	}
}
