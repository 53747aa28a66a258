package vidpred

import (
	"io"

	"github.com/gorgonia/vidpred/prednet"
	"gorgonia.org/tensor"
)

// OutputEncoder encodes the entire meta state as whatever.
//
// An example OutputEncoder is the GifEncoder. Another example would be a logger.
type OutputEncoder interface {
	Encode(ms MetaState) error
	Flush() error
}

// MetaState is a snapshot of training, taken every time the loss is recorded.
//
// Frames and Predictions are only valid for the duration of Encode.
type MetaState interface {
	Name() string
	Epoch() int
	Iteration() int
	Loss() float32

	// Frames is the batch that was fed, (batch, seq, channels, height, width).
	Frames() *tensor.Dense
	// Predictions of frames 1..seq-1, (batch, seq-1, channels, height, width).
	Predictions() *tensor.Dense
}

// Predictor is anything that can predict the next frames of a batch of sequences.
type Predictor interface {
	Forward(frames *tensor.Dense) (preds, errs *tensor.Dense, err error)
	io.Closer
}

// ExecLogger is anything that can return the execution log.
type ExecLogger interface {
	ExecLog() string
}

var (
	_ Predictor  = &prednet.Inferencer{}
	_ ExecLogger = &prednet.Inferencer{}
)

type snapshot struct {
	name      string
	epoch     int
	iteration int
	loss      float32
	frames    *tensor.Dense
	preds     *tensor.Dense
}

func (s snapshot) Name() string               { return s.name }
func (s snapshot) Epoch() int                 { return s.epoch }
func (s snapshot) Iteration() int             { return s.iteration }
func (s snapshot) Loss() float32              { return s.loss }
func (s snapshot) Frames() *tensor.Dense      { return s.frames }
func (s snapshot) Predictions() *tensor.Dense { return s.preds }
