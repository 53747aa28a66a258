// Package render draws frame tensors and their predictions as images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chewxy/math32"
	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/vidpred"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
	"gorgonia.org/tensor"
)

var regular *truetype.Font

const (
	dpi        = 72.0
	fontsize   = 10.0
	lineheight = 1.2
	pad        = 4
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Renderer draws frames upscaled by Scale, with captions.
type Renderer struct {
	Scale    int
	PixelMax float32

	font.Drawer
}

// New creates a Renderer. Pixel values are mapped from [0, pixelMax] to [0, 255].
func New(scale int, pixelMax float32) *Renderer {
	if scale < 1 {
		scale = 1
	}
	r := &Renderer{
		Scale:    scale,
		PixelMax: pixelMax,
	}
	r.Src = image.Black
	r.Face = truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	return r
}

func lineHeight() int { return int(math.Ceil(fontsize * lineheight * dpi / 72)) }

// Frame draws frame t of sequence b of a (batch, seq, channels, height, width) tensor.
// Channels must be 1 or 3.
func (r *Renderer) Frame(frames *tensor.Dense, b, t int) (*image.RGBA, error) {
	s := frames.Shape()
	if s.Dims() != 5 {
		return nil, errors.Errorf("expected (batch, seq, channels, height, width), got %v", s)
	}
	if b >= s[0] || t >= s[1] {
		return nil, errors.Errorf("frame (%d, %d) out of range of %v", b, t, s)
	}
	c, h, w := s[2], s[3], s[4]
	if c != 1 && c != 3 {
		return nil, errors.Errorf("cannot draw %d channels", c)
	}
	data, ok := frames.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected []float32, got %T", frames.Data())
	}
	plane := h * w
	start := (b*s[1] + t) * c * plane
	pix := data[start : start+c*plane]

	im := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if c == 1 {
				v := r.level(pix[i])
				im.SetRGBA(x, y, color.RGBA{v, v, v, 255})
				continue
			}
			im.SetRGBA(x, y, color.RGBA{r.level(pix[i]), r.level(pix[plane+i]), r.level(pix[2*plane+i]), 255})
		}
	}
	if r.Scale == 1 {
		return im, nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, w*r.Scale, h*r.Scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), im, im.Bounds(), draw.Src, nil)
	return scaled, nil
}

func (r *Renderer) level(v float32) uint8 {
	v = math32.Floor(255*v/r.PixelMax + 0.5)
	return uint8(math32.Max(0, math32.Min(255, v)))
}

// Pair draws frame t of sequence b next to its prediction, captioned with
// the training state. t must be at least 1.
func (r *Renderer) Pair(ms vidpred.MetaState, b, t int) (*image.RGBA, error) {
	if t < 1 {
		return nil, errors.Errorf("frame %d has no prediction", t)
	}
	truth, err := r.Frame(ms.Frames(), b, t)
	if err != nil {
		return nil, err
	}
	pred, err := r.Frame(ms.Predictions(), b, t-1)
	if err != nil {
		return nil, err
	}
	lines := []string{
		ms.Name(),
		fmt.Sprintf("Epoch %d, Iteration %d", ms.Epoch(), ms.Iteration()),
		fmt.Sprintf("Loss %.5f, t=%d", ms.Loss(), t),
	}
	fw, fh := truth.Bounds().Dx(), truth.Bounds().Dy()
	w := r.textWidth(lines)
	if w < 2*fw+3*pad {
		w = 2*fw + 3*pad
	}
	h := fh + 2*pad + len(lines)*lineHeight() + pad

	im := r.canvas(w, h)
	draw.Draw(im, image.Rect(pad, pad, pad+fw, pad+fh), truth, image.Point{}, draw.Src)
	draw.Draw(im, image.Rect(2*pad+fw, pad, 2*pad+2*fw, pad+fh), pred, image.Point{}, draw.Src)
	r.caption(im, lines, fh+2*pad)
	return im, nil
}

// Sheet draws every frame of sequence b in a row, with the predictions in a
// second row under the frames they predict.
func (r *Renderer) Sheet(ms vidpred.MetaState, b int) (*image.RGBA, error) {
	frames := ms.Frames()
	seq := frames.Shape()[1]
	lines := []string{fmt.Sprintf("%s  Epoch %d, Iteration %d, Loss %.5f", ms.Name(), ms.Epoch(), ms.Iteration(), ms.Loss())}

	var im *image.RGBA
	for t := 0; t < seq; t++ {
		truth, err := r.Frame(frames, b, t)
		if err != nil {
			return nil, err
		}
		fw, fh := truth.Bounds().Dx(), truth.Bounds().Dy()
		if im == nil {
			w := seq*(fw+pad) + pad
			if tw := r.textWidth(lines); tw > w {
				w = tw
			}
			im = r.canvas(w, 2*fh+3*pad+lineHeight()+pad)
		}
		x := pad + t*(fw+pad)
		draw.Draw(im, image.Rect(x, pad, x+fw, pad+fh), truth, image.Point{}, draw.Src)
		if t == 0 {
			continue
		}
		pred, err := r.Frame(ms.Predictions(), b, t-1)
		if err != nil {
			return nil, err
		}
		draw.Draw(im, image.Rect(x, 2*pad+fh, x+fw, 2*pad+2*fh), pred, image.Point{}, draw.Src)
		if t == seq-1 {
			r.caption(im, lines, 2*fh+3*pad)
		}
	}
	return im, nil
}

func (r *Renderer) canvas(w, h int) *image.RGBA {
	im := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	return im
}

func (r *Renderer) textWidth(lines []string) int {
	var w int
	for _, l := range lines {
		if lw := font.MeasureString(r.Face, l).Ceil() + 2*pad; lw > w {
			w = lw
		}
	}
	return w
}

// caption writes lines below y.
func (r *Renderer) caption(dst draw.Image, lines []string, y int) {
	r.Dst = dst
	dy := lineHeight()
	for _, l := range lines {
		y += dy
		r.Dot = fixed.P(pad, y)
		r.DrawString(l)
	}
}
