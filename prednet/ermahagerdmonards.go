package prednet

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

type maebe struct {
	err error
}

// do runs f unless an earlier step failed, and keeps its error with a stack.
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// conv applies a same-size convolution, with the bias broadcast over batch and space.
func (m *maebe) conv(input *G.Node, c *conv) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	padding := findPadding(input.Shape()[2], input.Shape()[3], c.k, c.k)
	if retVal, m.err = nnops.Conv2d(input, c.w, tensor.Shape{c.k, c.k}, padding, []int{1, 1}, []int{1, 1}); m.err != nil {
		m.err = errors.WithStack(m.err)
		return nil
	}
	if c.b == nil {
		return
	}
	if retVal, m.err = G.BroadcastAdd(retVal, c.b, nil, []byte{0, 2, 3}); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) act(f activation, input *G.Node) (retVal *G.Node) {
	return m.do(func() (*G.Node, error) { return f(input) })
}

// pool is the A cell's 2x2, stride 2 max pool.
func (m *maebe) pool(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.MaxPool2D(input, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

func (m *maebe) hadamard(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardProd(a, b) })
}

func (m *maebe) concat(axis int, ns ...*G.Node) *G.Node {
	if len(ns) == 1 {
		return ns[0]
	}
	return m.do(func() (*G.Node, error) { return G.Concat(axis, ns...) })
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// upsample doubles the height and width of a BCHW node, every pixel becoming
// a 2x2 block. height and width must be exactly twice the input's. Both axes
// are products with constant 0/1 matrices over contiguous reshapes:
//
//	(b*c*h, w) x (w, 2w)   repeats every column
//	(b*c*h, 2w) x (2w, 4w) repeats every row, read back as (b, c, 2h, 2w)
//
// The result is multiplied by ones so that the gradient reaching the reshape
// is a fresh tensor and not the strided slice Concat hands back.
func (m *maebe) upsample(input *G.Node, height, width int) *G.Node {
	if m.err != nil {
		return nil
	}
	s := input.Shape()
	b, c, h, w := s[0], s[1], s[2], s[3]
	if height != 2*h || width != 2*w {
		m.err = errors.Errorf("cannot upsample %v to %dx%d", s, height, width)
		return nil
	}
	g := input.Graph()
	cols := constant(g, nearest(w, width), "upsampleCols")
	rows := constant(g, repeatCols(width, 2), "upsampleRows")
	ones := constant(g, tensor.Ones(Float, b, c, height, width), "upsampleOnes")

	x := m.reshape(input, tensor.Shape{b * c * h, w})
	x = m.do(func() (*G.Node, error) { return G.Mul(x, cols) })
	x = m.do(func() (*G.Node, error) { return G.Mul(x, rows) })
	x = m.reshape(x, tensor.Shape{b, c, height, width})
	return m.hadamard(x, ones)
}

// mean reduces a BCHW node to a vector of one element.
func (m *maebe) mean(input *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	flat := m.reshape(input, tensor.Shape{1, input.Shape().TotalSize()})
	return m.do(func() (*G.Node, error) { return G.Mean(flat, 1) })
}

// nearest returns the (in, out) matrix that selects source index floor(j*in/out) for every output j.
func nearest(in, out int) *tensor.Dense {
	backing := make([]float32, in*out)
	for j := 0; j < out; j++ {
		i := j * in / out
		backing[i*out+j] = 1
	}
	return tensor.New(tensor.WithShape(in, out), tensor.WithBacking(backing))
}

// repeatCols returns the (n, k*n) matrix [I I ... I] that lays k copies of a row side by side.
func repeatCols(n, k int) *tensor.Dense {
	backing := make([]float32, n*k*n)
	for i := 0; i < n; i++ {
		for r := 0; r < k; r++ {
			backing[i*k*n+r*n+i] = 1
		}
	}
	return tensor.New(tensor.WithShape(n, k*n), tensor.WithBacking(backing))
}

func findPadding(inputX, inputY, kernelX, kernelY int) []int {
	return []int{
		(inputX - 1 - inputX + kernelX) / 2,
		(inputY - 1 - inputY + kernelY) / 2,
	}
}
