package prednet

import (
	"bytes"
	"log"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Trainer runs the forward and backward pass of a training graph. The
// gradients are left in the learnables' dual values for a solver to apply.
type Trainer struct {
	p *PredNet
	m G.VM
}

// NewTrainer creates a VM for p. p must not be a forward only graph.
func NewTrainer(p *PredNet) (*Trainer, error) {
	if p.FwdOnly {
		return nil, errors.New("cannot train a forward only PredNet")
	}
	return &Trainer{
		p: p,
		m: G.NewTapeMachine(p.g, G.BindDualValues(p.Model()...)),
	}, nil
}

// Run feeds a batch of sequences and returns the cost.
func (t *Trainer) Run(frames *tensor.Dense) (cost float32, err error) {
	t.m.Reset()
	if err = t.p.let(frames); err != nil {
		return 0, err
	}
	if err = t.m.RunAll(); err != nil {
		return 0, errors.WithStack(err)
	}
	cost = t.p.costValue.Data().(float32)
	if math32.IsNaN(cost) || math32.IsInf(cost, 0) {
		return cost, errors.Errorf("cost is %v", cost)
	}
	return cost, nil
}

// Errors returns a copy of the (SeqLen, layers) errors of the last run.
func (t *Trainer) Errors() *tensor.Dense { return cloneValue(t.p.errValue) }

// Predictions returns a copy of the predictions of the last run.
func (t *Trainer) Predictions() *tensor.Dense { return cloneValue(t.p.predValue) }

// PredNet returns the network being trained.
func (t *Trainer) PredNet() *PredNet { return t.p }

// Close implements a closer, because well, a gorgonia VM is a resource.
func (t *Trainer) Close() error { return t.m.Close() }

// Inferencer is a struct that holds the state for a forward only *PredNet and a VM.
type Inferencer struct {
	p *PredNet
	m G.VM

	buf *bytes.Buffer
}

// Infer creates a forward only copy of p and a VM to run it.
func Infer(p *PredNet, toLog bool) (*Inferencer, error) {
	conf := p.Config
	conf.FwdOnly = true
	p2, err := p.CloneWith(conf)
	if err != nil {
		return nil, err
	}
	retVal := &Inferencer{
		p:   p2,
		buf: new(bytes.Buffer),
	}
	if toLog {
		logger := log.New(retVal.buf, "", 0)
		retVal.m = G.NewTapeMachine(p2.g,
			G.WithLogger(logger),
			G.WithWatchlist(),
			G.TraceExec(),
			G.WithValueFmt("%+1.1v"),
			G.WithNaNWatch(),
		)
	} else {
		retVal.m = G.NewTapeMachine(p2.g)
	}
	return retVal, nil
}

// Forward runs a (batch, seq, channels, height, width) input through the
// network. It returns the predictions of frames 1..seq-1, shaped
// (batch, seq-1, channels, height, width), and the mean error of every
// layer at every step, shaped (seq, layers), whose first row is zero.
func (m *Inferencer) Forward(frames *tensor.Dense) (preds, errs *tensor.Dense, err error) {
	m.buf.Reset()
	m.m.Reset()
	if err = m.p.let(frames); err != nil {
		return nil, nil, err
	}
	if err = m.m.RunAll(); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return cloneValue(m.p.predValue), cloneValue(m.p.errValue), nil
}

// PredNet returns the forward only network.
func (m *Inferencer) PredNet() *PredNet { return m.p }

// ExecLog returns the execution log. If Infer was called with toLog = false, then it will return an empty string
func (m *Inferencer) ExecLog() string { return m.buf.String() }

// Close implements a closer, because well, a gorgonia VM is a resource.
func (m *Inferencer) Close() error { return m.m.Close() }

func (p *PredNet) let(frames *tensor.Dense) error {
	if !frames.Shape().Eq(p.frames.Shape()) {
		return errors.Errorf("expected frames of shape %v, got %v", p.frames.Shape(), frames.Shape())
	}
	if frames.Dtype() != Float {
		return errors.Errorf("expected frames of %v, got %v", Float, frames.Dtype())
	}
	return G.Let(p.frames, frames)
}

func cloneValue(v G.Value) *tensor.Dense {
	if v == nil {
		return nil
	}
	return v.(*tensor.Dense).Clone().(*tensor.Dense)
}
