package vidpred

import (
	"io"

	"github.com/gorgonia/vidpred/dataset"
	"github.com/gorgonia/vidpred/prednet"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Report summarises how well the network predicts a dataset.
type Report struct {
	Sequences int `json:"sequences"`

	// LayerErrors is the mean error of every layer over the steps after the first.
	LayerErrors []float32 `json:"layer_errors"`
	// MSE of the predictions of frames 1..seq-1.
	MSE float32 `json:"mse"`
	// PrevFrameMSE is the MSE of predicting every frame with the one before it.
	PrevFrameMSE float32 `json:"prev_frame_mse"`
}

// Evaluate runs the master network forward only over every sequence of ds.
func (v *VP) Evaluate(ds *dataset.Dataset) (*Report, error) {
	batchSize := v.conf.Net.BatchSize
	inferers := make(map[int]*prednet.Inferencer)
	defer func() {
		for _, inf := range inferers {
			inf.Close()
		}
	}()

	var acc mseAcc
	layers := make([]float64, v.conf.Net.Layers())
	it := ds.Ordered(batchSize)
	for {
		frames, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		n := frames.Shape()[0]
		inf, ok := inferers[n]
		if !ok {
			if inf, err = v.inferer(n, false); err != nil {
				return nil, err
			}
			inferers[n] = inf
		}
		preds, errs, err := inf.Forward(frames)
		if err != nil {
			dataset.Release(frames)
			return nil, err
		}
		for l, e := range layerMeans(errs) {
			layers[l] += float64(e) * float64(n)
		}
		err = acc.add(frames, preds)
		dataset.Release(frames)
		if err != nil {
			return nil, err
		}
	}

	r := &Report{
		Sequences:    ds.Len(),
		LayerErrors:  make([]float32, len(layers)),
		MSE:          acc.mse(),
		PrevFrameMSE: acc.prevMSE(),
	}
	for l, e := range layers {
		r.LayerErrors[l] = float32(e / float64(ds.Len()))
	}
	log.Info().Int("sequences", r.Sequences).Float32("mse", r.MSE).Float32("prev_frame_mse", r.PrevFrameMSE).
		Interface("layer_errors", r.LayerErrors).Msg("evaluated")
	return r, nil
}

// mseAcc accumulates squared errors of predictions and of the previous frame baseline.
type mseAcc struct {
	sq, prevSq float64
	n          int
	scratch    []float32
}

func (a *mseAcc) add(frames, preds *tensor.Dense) error {
	fs, ps := frames.Shape(), preds.Shape()
	if fs[0] != ps[0] || fs[1] != ps[1]+1 {
		return errors.Errorf("predictions of shape %v do not match frames of shape %v", ps, fs)
	}
	b, seq := fs[0], fs[1]
	size := fs.TotalSize() / (b * seq)
	fdata := frames.Data().([]float32)
	pdata := preds.Data().([]float32)
	if len(a.scratch) != size {
		a.scratch = make([]float32, size)
	}

	for i := 0; i < b; i++ {
		for t := 1; t < seq; t++ {
			truth := fdata[(i*seq+t)*size : (i*seq+t+1)*size]
			prev := fdata[(i*seq+t-1)*size : (i*seq+t)*size]
			pred := pdata[(i*(seq-1)+t-1)*size : (i*(seq-1)+t)*size]
			a.sq += sqDist(a.scratch, pred, truth)
			a.prevSq += sqDist(a.scratch, prev, truth)
			a.n += size
		}
	}
	return nil
}

func (a *mseAcc) mse() float32 {
	if a.n == 0 {
		return 0
	}
	return float32(a.sq / float64(a.n))
}

func (a *mseAcc) prevMSE() float32 {
	if a.n == 0 {
		return 0
	}
	return float32(a.prevSq / float64(a.n))
}

// sqDist is the sum of squared differences of a and b. scratch is clobbered.
func sqDist(scratch, a, b []float32) float64 {
	copy(scratch, a)
	vecf32.Sub(scratch, b)
	vecf32.Mul(scratch, scratch)
	return float64(vecf32.Sum(scratch))
}
