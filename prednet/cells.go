package prednet

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// conv holds the learnables of one convolution. Filters are laid out as
// (out, in, k, k), the bias as (1, out, 1, 1).
type conv struct {
	name string
	k    int
	w, b *G.Node
}

func newConv(g *G.ExprGraph, name string, in, out, k int, bias bool) *conv {
	c := &conv{
		name: name,
		k:    k,
		w:    G.NewTensor(g, Float, 4, G.WithShape(out, in, k, k), G.WithName(name+".weight"), G.WithInit(G.GlorotU(1.0))),
	}
	if bias {
		c.b = G.NewTensor(g, Float, 4, G.WithShape(1, out, 1, 1), G.WithName(name+".bias"), G.WithInit(G.Zeroes()))
	}
	return c
}

func (c *conv) learnables() G.Nodes {
	if c == nil {
		return nil
	}
	if c.b == nil {
		return G.Nodes{c.w}
	}
	return G.Nodes{c.w, c.b}
}

// aCell turns the error of the layer below into the target of its layer:
// conv, rectify, 2x2 max pool.
type aCell struct {
	conv *conv
}

func (c *aCell) fwd(m *maebe, eBelow *G.Node) *G.Node {
	return m.pool(m.rectify(m.conv(eBelow, c.conv)))
}

// ahatCell predicts the target of its layer from R: conv, rectify and,
// on the saturating layer, a clamp to the valid pixel range.
type ahatCell struct {
	conv  *conv
	satlu activation
}

func (c *ahatCell) fwd(m *maebe, r *G.Node) *G.Node {
	ahat := m.rectify(m.conv(r, c.conv))
	if c.satlu != nil {
		ahat = m.act(c.satlu, ahat)
	}
	return ahat
}

// eCell concatenates the positive and negative rectified prediction errors
// along channels. It has no learnables and is shared by every layer.
type eCell struct {
	act          activation
	rectifyFirst bool // act can go negative, so the difference is rectified first
}

func (c eCell) fwd(m *maebe, a, ahat *G.Node) *G.Node {
	pos := m.sub(a, ahat)
	neg := m.sub(ahat, a)
	if c.rectifyFirst {
		pos, neg = m.rectify(pos), m.rectify(neg)
	}
	return m.concat(1, m.act(c.act, pos), m.act(c.act, neg))
}

// rCell is the convolutional LSTM of a layer. Unless fc is set the gates
// i, f and o do not look at the cell state.
type rCell struct {
	top bool

	wxi, whi, wxf, whf, wxc, whc, wxo, who *conv
	wci, wcf, wco                          *conv // fc only
	out                                    *conv // 1x1 projection, optional

	act, cAct activation
}

func newRCell(g *G.ExprGraph, conf Config, l int, act, cAct activation) *rCell {
	top := l == conf.Layers()-1
	in := 2 * conf.StackSizes[l]
	if !top {
		in += conf.RStackSizes[l+1]
	}
	hidden := conf.RStackSizes[l]
	k := conf.RKernelSizes[l]
	name := func(w string) string { return fmt.Sprintf("R_layers.%d.%s", l, w) }

	c := &rCell{
		top:  top,
		wxi:  newConv(g, name("Wxi"), in, hidden, k, conf.Bias),
		whi:  newConv(g, name("Whi"), hidden, hidden, k, conf.Bias),
		wxf:  newConv(g, name("Wxf"), in, hidden, k, conf.Bias),
		whf:  newConv(g, name("Whf"), hidden, hidden, k, conf.Bias),
		wxc:  newConv(g, name("Wxc"), in, hidden, k, conf.Bias),
		whc:  newConv(g, name("Whc"), hidden, hidden, k, conf.Bias),
		wxo:  newConv(g, name("Wxo"), in, hidden, k, conf.Bias),
		who:  newConv(g, name("Who"), hidden, hidden, k, conf.Bias),
		act:  act,
		cAct: cAct,
	}
	if conf.FC {
		c.wci = newConv(g, name("Wci"), hidden, hidden, k, conf.Bias)
		c.wcf = newConv(g, name("Wcf"), hidden, hidden, k, conf.Bias)
		c.wco = newConv(g, name("Wco"), hidden, hidden, k, conf.Bias)
	}
	if conf.UseOut {
		c.out = newConv(g, name("out"), hidden, hidden, 1, true)
	}
	return c
}

func (c *rCell) learnables() (retVal G.Nodes) {
	for _, cv := range []*conv{c.wxi, c.whi, c.wxf, c.whf, c.wxc, c.whc, c.wxo, c.who, c.wci, c.wcf, c.wco, c.out} {
		retVal = append(retVal, cv.learnables()...)
	}
	return
}

// gate computes act(Wx*x + Wh*h [+ Wc*cs]).
func (c *rCell) gate(m *maebe, f activation, x, h, cs *G.Node, wx, wh, wc *conv) *G.Node {
	s := m.add(m.conv(x, wx), m.conv(h, wh))
	if wc != nil {
		s = m.add(s, m.conv(cs, wc))
	}
	return m.act(f, s)
}

// fwd steps the cell. e is this layer's error from the previous step, above
// is the R output of the layer above at this step (nil for the top layer).
func (c *rCell) fwd(m *maebe, e, above, hPrev, cPrev *G.Node) (r, h, cs *G.Node) {
	if m.err != nil {
		return nil, nil, nil
	}
	x := e
	if !c.top {
		s := e.Shape()
		x = m.concat(1, e, m.upsample(above, s[2], s[3]))
	}

	i := c.gate(m, c.act, x, hPrev, cPrev, c.wxi, c.whi, c.wci)
	f := c.gate(m, c.act, x, hPrev, cPrev, c.wxf, c.whf, c.wcf)
	candidate := c.gate(m, c.cAct, x, hPrev, nil, c.wxc, c.whc, nil)
	cs = m.add(m.hadamard(f, cPrev), m.hadamard(i, candidate))

	// the output gate of the fc variant looks at the new cell state
	o := c.gate(m, c.act, x, hPrev, cs, c.wxo, c.who, c.wco)
	h = m.hadamard(o, m.act(c.act, cs))

	if c.out == nil {
		return h, h, cs
	}
	r = m.act(c.act, m.conv(h, c.out))
	return r, h, cs
}
