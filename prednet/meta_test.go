package prednet

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TestTrainer_Step builds a trainable network for every loss and checks a
// full forward, backward and solver step moves the learnables.
func TestTrainer_Step(t *testing.T) {
	for _, loss := range []string{LossE, LossMSE, LossL1} {
		t.Run(loss, func(t *testing.T) {
			conf := smallConf()
			conf.Loss = loss
			p, err := New(conf)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			tr, err := NewTrainer(p)
			require.NoError(t, err)
			defer tr.Close()

			before := p.Named()["Ahat_layers.0.conv.weight"].Value().(*tensor.Dense).Clone().(*tensor.Dense)
			solver := G.NewAdamSolver(G.WithLearnRate(0.001))
			for i := 0; i < 2; i++ {
				cost, err := tr.Run(uniformFrames(conf, 0, 1))
				if err != nil {
					t.Fatalf("%+v", err)
				}
				assert.True(t, cost >= 0, "cost %v", cost)
				require.NoError(t, solver.Step(G.NodesToValueGrads(p.Model())))
			}
			after := p.Named()["Ahat_layers.0.conv.weight"].Value()
			assert.NotEqual(t, before.Data(), after.Data(), "learnables should have been updated")
		})
	}
}

func TestTrainer_Run(t *testing.T) {
	conf := smallConf()
	p, err := New(conf)
	require.NoError(t, err)
	tr, err := NewTrainer(p)
	require.NoError(t, err)
	defer tr.Close()

	cost, err := tr.Run(uniformFrames(conf, 0, 1))
	require.NoError(t, err)
	assert.True(t, cost >= 0, "cost %v", cost)

	errs := tr.Errors()
	assert.True(t, tensor.Shape{conf.SeqLen, conf.Layers()}.Eq(errs.Shape()))

	// the E loss is the weighted sum of the layer errors
	var expected float32
	w := lossWeights(conf.SeqLen, conf.LayerLambdas).Data().([]float32)
	for i, e := range errs.Data().([]float32) {
		expected += w[i] * e
	}
	assert.InDelta(t, expected, cost, 1e-5)

	_, err = tr.Run(tensor.New(tensor.Of(Float), tensor.WithShape(1, conf.SeqLen, 3, 16, 16)))
	assert.Error(t, err)
	_, err = tr.Run(tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(conf.BatchSize, conf.SeqLen, 3, 16, 16)))
	assert.Error(t, err)
}

func TestNewTrainer_FwdOnly(t *testing.T) {
	conf := smallConf()
	conf.FwdOnly = true
	p, err := New(conf)
	require.NoError(t, err)
	_, err = NewTrainer(p)
	assert.Error(t, err)
}

func TestInferencer_ExecLog(t *testing.T) {
	conf := smallConf()
	conf.SeqLen = 2
	p, err := New(conf)
	require.NoError(t, err)

	inf, err := Infer(p, false)
	require.NoError(t, err)
	defer inf.Close()
	_, _, err = inf.Forward(uniformFrames(conf, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "", inf.ExecLog())
	assert.True(t, inf.PredNet().FwdOnly)
	assert.False(t, p.FwdOnly)

	logged, err := Infer(p, true)
	require.NoError(t, err)
	defer logged.Close()
	_, _, err = logged.Forward(uniformFrames(conf, 0, 1))
	require.NoError(t, err)
	assert.NotEqual(t, "", logged.ExecLog())
}

func TestManyErr(t *testing.T) {
	err := manyErr{errors.New("first"), errors.New("second")}
	assert.Equal(t, []string{"first", "second", ""}, strings.Split(err.Error(), "\n"))
}
