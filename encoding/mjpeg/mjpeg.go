package mjpeg

import (
	"bytes"
	"image/jpeg"
	"net/http"

	"github.com/gorgonia/vidpred"
	"github.com/gorgonia/vidpred/internal/render"
	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Encoder is a vidpred.OutputEncoder that streams a contact sheet of the
// frames and predictions of the latest recorded batch.
type Encoder struct {
	Sequence int // which sequence of the batch to draw

	stream *mjpeg.Stream
	r      *render.Renderer
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder creates an encoder that upscales frames by scale.
func NewEncoder(scale int, pixelMax float32) *Encoder {
	return &Encoder{
		stream: mjpeg.NewStream(),
		r:      render.New(scale, pixelMax),
	}
}

// Encode updates the stream with the state.
func (enc *Encoder) Encode(ms vidpred.MetaState) error {
	im, err := enc.r.Sheet(ms, enc.Sequence)
	if err != nil {
		return err
	}
	var b bytes.Buffer
	if err = jpeg.Encode(&b, im, nil); err != nil {
		return errors.WithStack(err)
	}
	if err = enc.stream.Update(b.Bytes()); err != nil {
		log.Warn().Err(err).Msg("mjpeg stream update")
		return errors.WithStack(err)
	}
	return nil
}

// Flush closes the stream.
func (enc *Encoder) Flush() error { return enc.stream.Close() }
