package gif

import (
	"bytes"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type state struct {
	iter          int
	frames, preds *tensor.Dense
}

func (s state) Name() string               { return "gif" }
func (s state) Epoch() int                 { return 0 }
func (s state) Iteration() int             { return s.iter }
func (s state) Loss() float32              { return 0.25 }
func (s state) Frames() *tensor.Dense      { return s.frames }
func (s state) Predictions() *tensor.Dense { return s.preds }

func newState(iter, seq int) state {
	frames := tensor.New(tensor.WithShape(2, seq, 3, 6, 6), tensor.Of(tensor.Float32))
	preds := tensor.New(tensor.WithShape(2, seq-1, 3, 6, 6), tensor.Of(tensor.Float32))
	data := frames.Data().([]float32)
	for i := range data {
		data[i] = float32(i%7) / 7
	}
	return state{iter: iter, frames: frames, preds: preds}
}

func TestEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewGifEncoder(&buf, 2, 1)
	enc.Sequence = 1

	require.NoError(t, enc.Flush())
	assert.Zero(t, buf.Len(), "nothing to write")

	require.NoError(t, enc.Encode(newState(10, 4)))
	require.NoError(t, enc.Encode(newState(20, 4)))
	assert.Equal(t, 6, enc.Len())
	require.NoError(t, enc.Flush())

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Len(t, g.Image, 6)
	assert.Equal(t, []int{20, 20, 100, 20, 20, 100}, g.Delay)
	for _, im := range g.Image[1:] {
		assert.Equal(t, g.Image[0].Bounds(), im.Bounds())
	}

	enc.Sequence = 2
	assert.Error(t, enc.Encode(newState(30, 4)), "sequence out of range")
}
