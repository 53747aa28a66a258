package prednet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runActivation applies f to xs and returns the result.
func runActivation(t *testing.T, f activation, xs []float32) []float32 {
	g := G.NewGraph()
	x := G.NewVector(g, Float, G.WithShape(len(xs)), G.WithName("x"), G.WithValue(tensor.New(tensor.WithBacking(xs))))
	y, err := f(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var out G.Value
	G.Read(y, &out)
	m := G.NewTapeMachine(g)
	defer m.Close()
	if err := m.RunAll(); err != nil {
		t.Fatal(err)
	}
	return out.Data().([]float32)
}

func TestResolve(t *testing.T) {
	for _, name := range activations {
		f, err := resolve(name)
		assert.NoError(t, err, name)
		assert.NotNil(t, f, name)
	}
	_, err := resolve("swish")
	assert.Equal(t, UnsupportedActivation{Name: "swish", Supported: activations}, err)
	assert.EqualError(t, err, `unsupported activation "swish", use one of relu, sigmoid, tanh, hardsigmoid`)

	tests := []struct {
		name, want string
	}{
		{"logsigmoid", `unsupported activation "logsigmoid", use one of hardtanh, sigmoid`},
		{"relu", `unsupported activation "relu", use one of hardtanh, sigmoid`},
		{"", `unsupported activation "", use one of hardtanh, sigmoid`},
	}
	for _, tt := range tests {
		_, err = resolveSatLU(tt.name, 1)
		assert.IsType(t, UnsupportedActivation{}, err, tt.name)
		assert.EqualError(t, err, tt.want, tt.name)
	}
}

func TestHardSigmoid(t *testing.T) {
	got := runActivation(t, hardSigmoid, []float32{-1000, -5, -2.5, 0, 1, 5, 1000})
	assert.Equal(t, float32(0), got[0])
	assert.Equal(t, float32(0), got[1])
	assert.Equal(t, float32(0), got[2])
	assert.InDelta(t, 0.5, got[3], 1e-6)
	assert.InDelta(t, 0.7, got[4], 1e-6)
	assert.Equal(t, float32(1), got[5])
	assert.Equal(t, float32(1), got[6])
}

func TestSatLU(t *testing.T) {
	xs := []float32{-1e6, -1, 0, 0.25, 0.999, 1, 1.5, 1e6}

	hardtanh, err := resolveSatLU("hardtanh", 1)
	if err != nil {
		t.Fatal(err)
	}
	got := runActivation(t, hardtanh, xs)
	assert.Equal(t, []float32{0, 0, 0}, got[:3])
	assert.InDelta(t, 0.25, got[3], 1e-6)
	assert.InDelta(t, 0.999, got[4], 1e-6)
	assert.Equal(t, []float32{1, 1, 1}, got[5:])

	sigmoid, err := resolveSatLU("sigmoid", 255)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range runActivation(t, sigmoid, xs) {
		assert.True(t, v >= 0 && v <= 255, "%d: %v out of range", i, v)
	}
}
