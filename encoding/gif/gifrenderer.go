package gif

import (
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"sync"

	"github.com/gorgonia/vidpred"
	"github.com/gorgonia/vidpred/internal/render"
)

// Encoder is a vidpred.OutputEncoder that animates every frame of a
// sequence next to its prediction.
type Encoder struct {
	io.Writer
	Sequence int // which sequence of the batch to draw
	Delay    int // per frame, in 100ths of a second

	r   *render.Renderer
	out *gif.GIF

	mu sync.Mutex
}

// NewGifEncoder creates an encoder that upscales frames by scale.
func NewGifEncoder(w io.Writer, scale int, pixelMax float32) *Encoder {
	return &Encoder{
		Writer: w,
		Delay:  20,
		r:      render.New(scale, pixelMax),
		out:    &gif.GIF{LoopCount: 0},
	}
}

// Encode appends one GIF frame per predicted frame of the state.
func (enc *Encoder) Encode(ms vidpred.MetaState) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	seq := ms.Frames().Shape()[1]
	for t := 1; t < seq; t++ {
		im, err := enc.r.Pair(ms, enc.Sequence, t)
		if err != nil {
			return err
		}
		enc.add(im, enc.Delay)
	}
	// pause at the end of a sequence
	if n := len(enc.out.Delay); n > 0 {
		enc.out.Delay[n-1] = 5 * enc.Delay
	}
	return nil
}

func (enc *Encoder) add(im image.Image, delay int) {
	// every frame of a GIF must fit the first one
	b := im.Bounds()
	if len(enc.out.Image) > 0 {
		b = enc.out.Image[0].Bounds()
	}
	p := image.NewPaletted(b, palette.Plan9)
	draw.FloydSteinberg.Draw(p, b, im, image.Point{})
	enc.out.Image = append(enc.out.Image, p)
	enc.out.Delay = append(enc.out.Delay, delay)
}

// Len is the number of GIF frames encoded so far.
func (enc *Encoder) Len() int {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	return len(enc.out.Image)
}

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if len(enc.out.Image) == 0 {
		return nil
	}
	return gif.EncodeAll(enc.Writer, enc.out)
}
