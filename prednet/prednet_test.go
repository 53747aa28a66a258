package prednet

import (
	"bytes"
	"encoding/gob"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func smallConf() Config {
	conf := DefaultConfig(16, 16)
	conf.StackSizes = []int{3, 4, 8}
	conf.RStackSizes = []int{3, 4, 8}
	conf.AKernelSizes = []int{3, 3}
	conf.AhatKernelSizes = []int{3, 3, 3}
	conf.RKernelSizes = []int{3, 3, 3}
	conf.LayerLambdas = []float64{1, 0.1, 0.1}
	conf.BatchSize = 2
	conf.SeqLen = 4
	return conf
}

func uniformFrames(conf Config, lo, hi float64) *tensor.Dense {
	shape := []int{conf.BatchSize, conf.SeqLen, conf.InChannels, conf.Height, conf.Width}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(G.Uniform(lo, hi)(Float, shape...)))
}

func forward(t *testing.T, p *PredNet, frames *tensor.Dense) (preds, errs *tensor.Dense) {
	inf, err := Infer(p, false)
	require.NoError(t, err)
	defer inf.Close()
	preds, errs, err = inf.Forward(frames)
	require.NoError(t, err, "%+v", err)
	return preds, errs
}

func TestPredNet_Model(t *testing.T) {
	conf := smallConf()
	p, err := New(conf)
	require.NoError(t, err)

	named := p.Named()
	assert.Len(t, named, len(p.Model()))
	// 8 convs per R cell, 2 A convs, 3 Ahat convs, all with biases
	assert.Len(t, p.Model(), 3*8*2+2*2+3*2)

	shapes := map[string]tensor.Shape{
		"R_layers.0.Wxi.weight":     {3, 2*3 + 4, 3, 3},
		"R_layers.0.Whi.weight":     {3, 3, 3, 3},
		"R_layers.2.Wxi.weight":     {8, 2 * 8, 3, 3},
		"A_layers.1.conv.weight":    {4, 6, 3, 3},
		"A_layers.2.conv.bias":      {1, 8, 1, 1},
		"Ahat_layers.0.conv.weight": {3, 3, 3, 3},
	}
	for name, shape := range shapes {
		n, ok := named[name]
		if assert.True(t, ok, name) {
			assert.True(t, shape.Eq(n.Shape()), "%v: expected %v, got %v", name, shape, n.Shape())
		}
	}
	_, ok := named["A_layers.0.conv.weight"]
	assert.False(t, ok)
}

func TestPredNet_Forward(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"default", func(c *Config) {}},
		{"fc", func(c *Config) { c.FC = true }},
		{"use out", func(c *Config) { c.UseOut = true }},
		{"no bias", func(c *Config) { c.Bias = false }},
		{"no satlu", func(c *Config) { c.UseSatLU = false }},
		{"wide frames", func(c *Config) { c.Height, c.Width = 8, 24 }},
		{"two steps", func(c *Config) { c.SeqLen = 2 }},
		{"mixed kernels", func(c *Config) { c.RKernelSizes = []int{5, 3, 1}; c.AhatKernelSizes = []int{1, 5, 3} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := smallConf()
			tt.modify(&conf)
			p, err := New(conf)
			require.NoError(t, err, "%+v", err)

			preds, errs := forward(t, p, uniformFrames(conf, 0, 1))
			expected := tensor.Shape{conf.BatchSize, conf.SeqLen - 1, conf.InChannels, conf.Height, conf.Width}
			assert.True(t, expected.Eq(preds.Shape()), "expected %v, got %v", expected, preds.Shape())
			assert.True(t, tensor.Shape{conf.SeqLen, conf.Layers()}.Eq(errs.Shape()), "got %v", errs.Shape())

			data := errs.Data().([]float32)
			assert.Equal(t, make([]float32, conf.Layers()), data[:conf.Layers()], "first row should be zero")
		})
	}
}

func TestPredNet_ZeroInput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full size network in short mode")
	}
	conf := DefaultConfig(64, 64)
	conf.BatchSize = 1
	conf.SeqLen = 5
	conf.Bias = false
	conf.FwdOnly = true
	p, err := New(conf)
	require.NoError(t, err)

	frames := tensor.New(tensor.Of(Float), tensor.WithShape(1, 5, 3, 64, 64))
	preds, errs := forward(t, p, frames)
	assert.True(t, tensor.Shape{1, 4, 3, 64, 64}.Eq(preds.Shape()), "got %v", preds.Shape())
	assert.True(t, tensor.Shape{5, 4}.Eq(errs.Shape()), "got %v", errs.Shape())
	for _, v := range preds.Data().([]float32) {
		if v != 0 {
			t.Fatalf("expected zero predictions, got %v", v)
		}
	}
	for _, v := range errs.Data().([]float32) {
		if v != 0 {
			t.Fatalf("expected zero errors, got %v", v)
		}
	}
}

func TestPredNet_Saturation(t *testing.T) {
	for _, act := range []string{"hardtanh", "sigmoid"} {
		t.Run(act, func(t *testing.T) {
			conf := smallConf()
			conf.SatLUAct = act
			p, err := New(conf)
			require.NoError(t, err)

			preds, _ := forward(t, p, uniformFrames(conf, -1000, 1000))
			for i, v := range preds.Data().([]float32) {
				if v < 0 || v > float32(conf.PixelMax) {
					t.Fatalf("prediction %d = %v is outside [0, %v]", i, v, conf.PixelMax)
				}
			}
		})
	}
}

func TestPredNet_NonNegativeErrors(t *testing.T) {
	for _, act := range []string{"relu", "sigmoid", "tanh", "hardsigmoid"} {
		t.Run(act, func(t *testing.T) {
			conf := smallConf()
			conf.ErrorAct = act
			p, err := New(conf)
			require.NoError(t, err)

			_, errs := forward(t, p, uniformFrames(conf, -1, 1))
			for i, v := range errs.Data().([]float32) {
				if v < 0 {
					t.Fatalf("error %d = %v is negative", i, v)
				}
			}
		})
	}
}

func TestPredNet_Deterministic(t *testing.T) {
	conf := smallConf()
	p, err := New(conf)
	require.NoError(t, err)
	p2, err := p.Clone()
	require.NoError(t, err)

	frames := uniformFrames(conf, 0, 1)
	preds, errs := forward(t, p, frames)
	preds2, errs2 := forward(t, p2, frames)
	assert.Equal(t, preds.Data(), preds2.Data())
	assert.Equal(t, errs.Data(), errs2.Data())
}

func TestPredNet_CloneWith(t *testing.T) {
	conf := smallConf()
	p, err := New(conf)
	require.NoError(t, err)

	conf2 := conf
	conf2.BatchSize = 1
	p2, err := p.CloneWith(conf2)
	require.NoError(t, err)
	for i, n := range p.Model() {
		assert.Equal(t, n.Value().Data(), p2.Model()[i].Value().Data(), n.Name())
	}

	conf3 := conf
	conf3.RStackSizes = []int{3, 4, 6}
	_, err = p.CloneWith(conf3)
	assert.Error(t, err)
}

func TestPredNet_EncodeDecode(t *testing.T) {
	conf := smallConf()
	p, err := New(conf)
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	dec := gob.NewDecoder(&buf)

	if err := enc.Encode(p); err != nil {
		t.Fatal(err)
	}
	p2 := &PredNet{Config: conf}
	if err := dec.Decode(p2); err != nil {
		t.Fatal(err)
	}

	for i, n := range p.Model() {
		n2 := p2.Model()[i]
		assert.Equal(t, n.Name(), n2.Name())
		assert.Equal(t, n.Value().Data(), n2.Value().Data(), n.Name())
	}

	// a different architecture must not accept the encoded learnables
	buf.Reset()
	if err := enc.Encode(p); err != nil {
		t.Fatal(err)
	}
	conf3 := conf
	conf3.StackSizes = []int{3, 5, 8}
	assert.Error(t, dec.Decode(&PredNet{Config: conf3}))
}

func TestPredNet_ToDot(t *testing.T) {
	conf := smallConf()
	conf.FC = true
	p, err := New(conf)
	require.NoError(t, err)

	dot, err := p.ToDot()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dot, "digraph PredNet"), dot)
	for _, n := range []string{"Frames", "R0", "R2", "Ahat1", "E2", "A1", "A2", "satlu hardtanh", "fc"} {
		assert.Contains(t, dot, n)
	}
	assert.NotContains(t, dot, "A0 ")
}

func TestLossWeights(t *testing.T) {
	w := lossWeights(3, []float64{1, 0.5})
	assert.Equal(t, []float32{0, 0, 0.5, 0.25, 0.5, 0.25}, w.Data())
}
