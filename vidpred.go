package vidpred

import (
	"context"
	"encoding/gob"
	"math"
	"os"
	"sync"
	"time"

	"github.com/gorgonia/vidpred/dataset"
	"github.com/gorgonia/vidpred/prednet"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// VP is the top level structure and the entry point of the API.
// It holds the master copy of the network and trains it with many workers.
type VP struct {
	Statistics

	conf Config
	net  *prednet.PredNet

	// training state, guarded by mu
	mu     sync.Mutex
	solver G.Solver
	lr     float64
	step   int64 // claimed optimizer steps

	encMu sync.Mutex // serializes calls to the OutputEncoder
}

// New creates a VP with a freshly initialized network.
func New(conf Config) (*VP, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid config")
	}
	net, err := prednet.New(conf.Net)
	if err != nil {
		return nil, err
	}
	return &VP{
		Statistics: makeStatistics(),
		conf:       conf,
		net:        net,
	}, nil
}

// PredNet returns the master network.
func (v *VP) PredNet() *prednet.PredNet { return v.net }

// Config returns the configuration.
func (v *VP) Config() Config { return v.conf }

// learnRate is the learning rate at step. It is divided by 10 LRSteps
// times, at evenly spaced steps.
func (v *VP) learnRate(step int) float64 {
	if v.conf.LRSteps == 0 {
		return v.conf.LearningRate
	}
	stepSize := v.conf.Iterations / (v.conf.LRSteps + 1)
	if stepSize == 0 {
		stepSize = 1
	}
	decays := step / stepSize
	if decays > v.conf.LRSteps {
		decays = v.conf.LRSteps
	}
	return v.conf.LearningRate * math.Pow(0.1, float64(decays))
}

// Learn trains the network on ds for conf.Iterations optimizer steps, with
// conf.Workers workers. Each worker trains a private copy of the network on
// its own stream of batches; its gradients are applied to the master network
// one worker at a time. Learn returns early when ctx is done.
func (v *VP) Learn(ctx context.Context, ds *dataset.Dataset) error {
	if ds.SeqLen != v.conf.Net.SeqLen || ds.Channels != v.conf.Net.InChannels || ds.Height != v.conf.Net.Height || ds.Width != v.conf.Net.Width {
		return errors.Errorf("dataset shape %+v does not fit the net", ds.Shape)
	}
	if ds.Len() < v.conf.Net.BatchSize {
		return errors.Errorf("dataset of %d sequences cannot fill a batch of %d", ds.Len(), v.conf.Net.BatchSize)
	}

	var aug dataset.Augmenter
	if v.conf.Flip {
		aug = dataset.RandomFlip(0.5)
	}

	workers := make([]*worker, v.conf.Workers)
	for i := range workers {
		w, err := newWorker(v, i, ds.Shuffled(v.conf.Net.BatchSize, v.conf.Seed+int64(i), aug))
		if err != nil {
			closeWorkers(workers[:i])
			return err
		}
		workers[i] = w
	}
	defer closeWorkers(workers)

	start := time.Now()
	log.Info().Str("name", v.conf.Name).Int("workers", len(workers)).Int("iterations", v.conf.Iterations).
		Int("sequences", ds.Len()).Msg("start training")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *worker) {
			defer wg.Done()
			if errs[i] = w.run(ctx); errs[i] != nil {
				log.Error().Err(errs[i]).Int("worker", i).Msg("worker stopped")
			}
		}(i, w)
	}
	wg.Wait()

	var me manyErr
	for _, err := range errs {
		if err != nil {
			me = append(me, err)
		}
	}
	log.Info().Dur("took", time.Since(start)).Int64("steps", v.steps()).Msg("training done")
	if len(me) > 0 {
		return me
	}
	return ctx.Err()
}

// claim reserves the next optimizer step. ok is false once every step is taken.
func (v *VP) claim() (step int, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.step >= int64(v.conf.Iterations) {
		return 0, false
	}
	v.step++
	return int(v.step), true
}

func (v *VP) steps() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.step
}

// apply steps the master network with the gradients held by w's network,
// then copies the updated master into it.
func (v *VP) apply(w *worker, step int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if lr := v.learnRate(step); v.solver == nil || lr != v.lr {
		if v.solver != nil {
			log.Info().Int("step", step).Float64("learning_rate", lr).Msg("decaying learning rate")
		}
		v.solver = G.NewAdamSolver(G.WithLearnRate(lr))
		v.lr = lr
	}
	if err := v.solver.Step(w.grads); err != nil {
		return errors.WithStack(err)
	}
	return w.net.CopyFrom(v.net)
}

func (v *VP) record(w *worker, step int, cost float32, frames *tensor.Dense) error {
	v.mu.Lock()
	v.Statistics.update(step, cost, w.tr.Errors())
	v.mu.Unlock()

	log.Info().Int("step", step).Int("worker", w.id).Int("epoch", w.it.Epoch()).Float32("loss", cost).Msg("loss")
	if v.conf.OutputEncoder == nil {
		return nil
	}
	v.encMu.Lock()
	defer v.encMu.Unlock()
	return v.conf.OutputEncoder.Encode(snapshot{
		name:      v.conf.Name,
		epoch:     w.it.Epoch(),
		iteration: step,
		loss:      cost,
		frames:    frames,
		preds:     w.tr.Predictions(),
	})
}

// Predict runs the master network forward only on a batch of any size.
func (v *VP) Predict(frames *tensor.Dense) (preds, errs *tensor.Dense, err error) {
	inf, err := v.inferer(frames.Shape()[0], false)
	if err != nil {
		return nil, nil, err
	}
	defer inf.Close()
	return inf.Forward(frames)
}

// inferer creates a forward only copy of the master network for batches of
// batchSize sequences.
func (v *VP) inferer(batchSize int, toLog bool) (*prednet.Inferencer, error) {
	conf := v.net.Config
	conf.BatchSize = batchSize
	v.mu.Lock()
	net, err := v.net.CloneWith(conf)
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return prednet.Infer(net, toLog)
}

// Save the learnables of the master network into filename.
func (v *VP) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	v.mu.Lock()
	defer v.mu.Unlock()
	enc := gob.NewEncoder(f)
	if err = enc.Encode(v.net); err != nil {
		return errors.WithStack(err)
	}
	log.Info().Str("file", filename).Msg("saved model")
	return f.Sync()
}

// Load the learnables of the master network from a file written by Save.
func (v *VP) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	net := &prednet.PredNet{Config: v.conf.Net}
	dec := gob.NewDecoder(f)
	if err = dec.Decode(net); err != nil {
		return errors.Wrapf(err, "cannot load %q", filename)
	}
	v.mu.Lock()
	v.net = net
	v.mu.Unlock()
	return nil
}

// LoadTorch loads the learnables of the master network from a PyTorch
// state_dict of the same architecture.
func (v *VP) LoadTorch(filename string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.net.LoadTorch(filename)
}
