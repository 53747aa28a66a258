package render

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type state struct {
	frames, preds *tensor.Dense
}

func (s state) Name() string               { return "test" }
func (s state) Epoch() int                 { return 1 }
func (s state) Iteration() int             { return 20 }
func (s state) Loss() float32              { return 0.5 }
func (s state) Frames() *tensor.Dense      { return s.frames }
func (s state) Predictions() *tensor.Dense { return s.preds }

func ramp(shape ...int) *tensor.Dense {
	t := tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))
	data := t.Data().([]float32)
	for i := range data {
		data[i] = float32(i%5) / 4
	}
	return t
}

func TestRenderer_Frame(t *testing.T) {
	r := New(2, 1)
	frames := tensor.New(tensor.WithShape(1, 1, 3, 1, 2), tensor.WithBacking([]float32{
		1, 0, // R
		0, 2, // G, clamped
		0, -1, // B, clamped
	}))
	im, err := r.Frame(frames, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, im.Bounds().Dx())
	assert.Equal(t, 2, im.Bounds().Dy())
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, im.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, im.RGBAAt(1, 1), "upscaled")
	assert.Equal(t, color.RGBA{0, 255, 0, 255}, im.RGBAAt(3, 0))

	gray := tensor.New(tensor.WithShape(1, 1, 1, 1, 1), tensor.WithBacking([]float32{0.5}))
	im, err = New(1, 1).Frame(gray, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{128, 128, 128, 255}, im.RGBAAt(0, 0))

	tests := []struct {
		name   string
		frames *tensor.Dense
		b, t   int
	}{
		{"not 5D", ramp(2, 3, 4), 0, 0},
		{"batch out of range", ramp(1, 2, 1, 2, 2), 1, 0},
		{"step out of range", ramp(1, 2, 1, 2, 2), 0, 2},
		{"two channels", ramp(1, 2, 2, 2, 2), 0, 0},
	}
	for _, tt := range tests {
		_, err := r.Frame(tt.frames, tt.b, tt.t)
		assert.Error(t, err, tt.name)
	}
}

func TestRenderer_Pair(t *testing.T) {
	r := New(3, 1)
	ms := state{frames: ramp(2, 4, 3, 8, 8), preds: ramp(2, 3, 3, 8, 8)}
	im, err := r.Pair(ms, 1, 3)
	require.NoError(t, err)
	assert.True(t, im.Bounds().Dx() >= 2*24+3*pad)
	assert.True(t, im.Bounds().Dy() > 24+3*lineHeight())

	_, err = r.Pair(ms, 1, 0)
	assert.Error(t, err, "the first frame has no prediction")
}

func TestRenderer_Sheet(t *testing.T) {
	r := New(1, 1)
	ms := state{frames: ramp(1, 4, 1, 8, 8), preds: ramp(1, 3, 1, 8, 8)}
	im, err := r.Sheet(ms, 0)
	require.NoError(t, err)
	assert.True(t, im.Bounds().Dx() >= 4*(8+pad)+pad)
	assert.Equal(t, 2*8+3*pad+lineHeight()+pad, im.Bounds().Dy())
	// the prediction row starts under the second frame
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, im.RGBAAt(pad, 2*pad+8))
}
