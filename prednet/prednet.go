package prednet

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// PredNet is the predictive coding network: per layer stacks of R, Ahat and A
// cells plus the shared E cell, unrolled over SeqLen steps in one graph.
type PredNet struct {
	Config

	g         *G.ExprGraph
	rCells    []*rCell
	aCells    []*aCell // aCells[0] is nil, layer 0 is fed the frames
	ahatCells []*ahatCell
	eCell     eCell
	model     G.Nodes

	frames *G.Node   // (batch, seq, channels, height, width)
	ahats  G.Nodes   // Ahat of layer 0 at steps 1..seq-1
	preds  *G.Node   // (batch, seq-1, channels, height, width)
	errs   *G.Node // (seq, layers)
	cost   *G.Node

	predValue G.Value
	errValue  G.Value
	costValue G.Value
}

// New validates the config and builds the network.
func New(conf Config) (*PredNet, error) {
	retVal := &PredNet{Config: conf}
	if err := retVal.Init(); err != nil {
		return nil, err
	}
	return retVal, nil
}

// Init builds the expression graph. Nothing is allocated if the config is not valid.
func (p *PredNet) Init() error {
	p.reset()
	if err := p.Config.Validate(); err != nil {
		return errors.WithMessage(err, "invalid PredNet config")
	}
	if err := p.build(); err != nil {
		return err
	}
	p.g = p.frames.Graph()
	if err := p.fwd(); err != nil {
		return err
	}
	return p.bwd()
}

func (p *PredNet) build() error {
	conf := p.Config
	nb := conf.Layers()

	errAct, err := resolve(conf.ErrorAct)
	if err != nil {
		return err
	}
	act, err := resolve(conf.LSTMAct)
	if err != nil {
		return err
	}
	cAct, err := resolve(conf.LSTMCAct)
	if err != nil {
		return err
	}
	var satlu activation
	if conf.UseSatLU {
		if satlu, err = resolveSatLU(conf.SatLUAct, float32(conf.PixelMax)); err != nil {
			return err
		}
	}

	g := G.NewGraph()
	// note, the data should be arranged like so:
	//	BatchSize, SeqLen, Channels, Height, Width
	// because Gorgonia only supports doing convolutions on BCHW format
	p.frames = G.NewTensor(g, Float, 5, G.WithShape(conf.BatchSize, conf.SeqLen, conf.InChannels, conf.Height, conf.Width), G.WithName("Frames"))

	p.rCells = make([]*rCell, nb)
	for l := range p.rCells {
		p.rCells[l] = newRCell(g, conf, l, act, cAct)
	}
	p.aCells = make([]*aCell, nb)
	for l := 1; l < nb; l++ {
		p.aCells[l] = &aCell{conv: newConv(g, fmt.Sprintf("A_layers.%d.conv", l), 2*conf.StackSizes[l-1], conf.StackSizes[l], conf.AKernelSizes[l-1], conf.Bias)}
	}
	p.ahatCells = make([]*ahatCell, nb)
	for l := range p.ahatCells {
		c := &ahatCell{conv: newConv(g, fmt.Sprintf("Ahat_layers.%d.conv", l), conf.RStackSizes[l], conf.StackSizes[l], conf.AhatKernelSizes[l], conf.Bias)}
		if l == 0 {
			c.satlu = satlu
		}
		p.ahatCells[l] = c
	}
	p.eCell = eCell{act: errAct, rectifyFirst: signed(conf.ErrorAct)}

	for _, c := range p.rCells {
		p.model = append(p.model, c.learnables()...)
	}
	for _, c := range p.aCells[1:] {
		p.model = append(p.model, c.conv.learnables()...)
	}
	for _, c := range p.ahatCells {
		p.model = append(p.model, c.conv.learnables()...)
	}
	return nil
}

// fwd unrolls the sequence. Every step first updates R top-down using the
// previous step's errors, then runs Ahat, E and A bottom-up.
func (p *PredNet) fwd() error {
	conf := p.Config
	nb := conf.Layers()
	dims := LayerDims(conf.Height, conf.Width, nb)

	var m maebe
	g := p.g
	// the state of the previous step, zero at t=0
	h := make([]*G.Node, nb)
	c := make([]*G.Node, nb)
	e := make([]*G.Node, nb)
	for l := 0; l < nb; l++ {
		hw := dims[l]
		h[l] = zeros(g, fmt.Sprintf("H0_%d", l), conf.BatchSize, conf.RStackSizes[l], hw[0], hw[1])
		c[l] = zeros(g, fmt.Sprintf("C0_%d", l), conf.BatchSize, conf.RStackSizes[l], hw[0], hw[1])
		e[l] = zeros(g, fmt.Sprintf("E0_%d", l), conf.BatchSize, 2*conf.StackSizes[l], hw[0], hw[1])
	}

	preds := make([]*G.Node, 0, conf.SeqLen-1)
	errs := make([]*G.Node, 0, conf.SeqLen*nb)
	errs = append(errs, zeros(g, "errors0", nb))

	for t := 0; t < conf.SeqLen; t++ {
		r := make([]*G.Node, nb)
		hT := make([]*G.Node, nb)
		cT := make([]*G.Node, nb)
		eT := make([]*G.Node, nb)

		for l := nb - 1; l >= 0; l-- {
			var above *G.Node
			if l < nb-1 {
				above = r[l+1]
			}
			r[l], hT[l], cT[l] = p.rCells[l].fwd(&m, e[l], above, h[l], c[l])
		}

		target := m.do(func() (*G.Node, error) { return G.Slice(p.frames, nil, G.S(t)) })
		for l := 0; l < nb; l++ {
			ahat := p.ahatCells[l].fwd(&m, r[l])
			if l == 0 && t > 0 {
				p.ahats = append(p.ahats, ahat)
				s := ahat.Shape()
				preds = append(preds, m.reshape(ahat, tensor.Shape{s[0], 1, s[1], s[2], s[3]}))
			}
			eT[l] = p.eCell.fwd(&m, target, ahat)
			if l < nb-1 {
				target = p.aCells[l+1].fwd(&m, eT[l])
			}
			if m.err != nil {
				return errors.WithMessage(m.err, fmt.Sprintf("layer %d, step %d", l, t))
			}
		}

		if t > 0 {
			for l := 0; l < nb; l++ {
				errs = append(errs, m.mean(eT[l]))
			}
		}
		h, c, e = hT, cT, eT
	}

	p.preds = m.concat(1, preds...)
	p.errs = m.concat(0, errs...)
	p.errs = m.reshape(p.errs, tensor.Shape{conf.SeqLen, nb})
	if m.err != nil {
		return m.err
	}
	G.Read(p.preds, &p.predValue)
	G.Read(p.errs, &p.errValue)
	return nil
}

func (p *PredNet) bwd() error {
	if p.FwdOnly {
		return nil
	}
	var m maebe
	switch p.Loss {
	case LossE:
		weights := constant(p.g, lossWeights(p.SeqLen, p.LayerLambdas), "LossWeights")
		p.cost = m.hadamard(p.errs, weights)
		p.cost = m.do(func() (*G.Node, error) { return G.Sum(p.cost) })
	case LossMSE, LossL1:
		// every step predicts the same number of pixels, so the mean of the
		// per step means is the mean over the whole prediction
		for i, ahat := range p.ahats {
			t := i + 1
			next := m.do(func() (*G.Node, error) { return G.Slice(p.frames, nil, G.S(t)) })
			diff := m.sub(ahat, next)
			if p.Loss == LossMSE {
				diff = m.do(func() (*G.Node, error) { return G.Square(diff) })
			} else {
				diff = m.do(func() (*G.Node, error) { return G.Abs(diff) })
			}
			step := m.do(func() (*G.Node, error) { return G.Mean(diff) })
			if p.cost == nil {
				p.cost = step
				continue
			}
			p.cost = m.add(p.cost, step)
		}
		scale := p.g.AddNode(G.NewConstant(float32(1)/float32(len(p.ahats)), G.WithName("stepWeight")))
		p.cost = m.do(func() (*G.Node, error) { return G.Mul(p.cost, scale) })
	}
	if m.err != nil {
		return m.err
	}
	G.Read(p.cost, &p.costValue)

	if _, err := G.Grad(p.cost, p.model...); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// lossWeights weighs the layer errors of every step after the first equally.
func lossWeights(seqLen int, lambdas []float64) *tensor.Dense {
	backing := make([]float32, seqLen*len(lambdas))
	timeWeight := 1 / float64(seqLen-1)
	for t := 1; t < seqLen; t++ {
		for l, lambda := range lambdas {
			backing[t*len(lambdas)+l] = float32(lambda * timeWeight)
		}
	}
	return tensor.New(tensor.WithShape(seqLen, len(lambdas)), tensor.WithBacking(backing))
}

// constant adds a constant to g. Ops such as Im2Col need every input on a graph.
func constant(g *G.ExprGraph, v G.Value, name string) *G.Node {
	return g.AddNode(G.NewConstant(v, G.WithName(name)))
}

func zeros(g *G.ExprGraph, name string, shape ...int) *G.Node {
	return constant(g, tensor.New(tensor.Of(Float), tensor.WithShape(shape...)), name)
}

// Model returns the learnables, in a fixed order.
func (p *PredNet) Model() G.Nodes { return p.model }

// Graph returns the expression graph.
func (p *PredNet) Graph() *G.ExprGraph { return p.g }

// Named returns the learnables keyed by their PyTorch state_dict name.
func (p *PredNet) Named() map[string]*G.Node {
	retVal := make(map[string]*G.Node, len(p.model))
	for _, n := range p.model {
		retVal[n.Name()] = n
	}
	return retVal
}

// Clone creates a new PredNet with the same config and a copy of the learnables.
func (p *PredNet) Clone() (*PredNet, error) {
	return p.CloneWith(p.Config)
}

// CloneWith creates a new PredNet from conf and copies the learnables of p
// into it. conf must describe the same architecture, e.g. differing only in
// FwdOnly or BatchSize.
func (p *PredNet) CloneWith(conf Config) (*PredNet, error) {
	p2, err := New(conf)
	if err != nil {
		return nil, err
	}
	if err = p2.CopyFrom(p); err != nil {
		return nil, err
	}
	return p2, nil
}

// CopyFrom copies the values of the learnables of src into p.
func (p *PredNet) CopyFrom(src *PredNet) error {
	model := src.Model()
	if len(model) != len(p.model) {
		return errors.Errorf("cannot copy %d learnables into %d", len(model), len(p.model))
	}
	for i, n := range model {
		if !n.Shape().Eq(p.model[i].Shape()) {
			return errors.Errorf("learnable %v has shape %v, expected %v", n.Name(), n.Shape(), p.model[i].Shape())
		}
		original := n.Value().Data().([]float32)
		cloned := p.model[i].Value().Data().([]float32)
		copy(cloned, original)
	}
	return nil
}

func (p *PredNet) reset() {
	p.g = nil
	p.rCells = nil
	p.aCells = nil
	p.ahatCells = nil
	p.model = nil

	p.frames = nil
	p.ahats = nil
	p.preds = nil
	p.errs = nil
	p.cost = nil
}

func (p *PredNet) GobEncode() (retVal []byte, err error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, n := range p.Model() {
		v := n.Value()
		if err = enc.Encode(&v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (p *PredNet) GobDecode(buf []byte) error {
	if err := p.Init(); err != nil {
		return err
	}

	dec := gob.NewDecoder(bytes.NewBuffer(buf))
	for _, n := range p.Model() {
		var v G.Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if !v.Shape().Eq(n.Shape()) {
			return errors.Errorf("stored value for %v has shape %v, expected %v", n.Name(), v.Shape(), n.Shape())
		}
		if err := G.Let(n, v); err != nil {
			return err
		}
	}
	return nil
}
