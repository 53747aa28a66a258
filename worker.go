package vidpred

import (
	"context"

	"github.com/gorgonia/vidpred/dataset"
	"github.com/gorgonia/vidpred/prednet"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	G "gorgonia.org/gorgonia"
)

// A worker trains a private copy of the master network.
type worker struct {
	id  int
	v   *VP
	net *prednet.PredNet
	tr  *prednet.Trainer
	it  *dataset.Iterator

	// grads pairs the master's learnables with the gradients of net's, so
	// a solver steps the master.
	grads []G.ValueGrad
}

// masterGrad is a G.ValueGrad whose value lives in the master network and
// whose gradient was computed by a worker.
type masterGrad struct {
	master, local *G.Node
}

func (g masterGrad) Value() G.Value         { return g.master.Value() }
func (g masterGrad) Grad() (G.Value, error) { return g.local.Grad() }
func (g masterGrad) String() string         { return g.master.Name() }

func newWorker(v *VP, id int, it *dataset.Iterator) (*worker, error) {
	v.mu.Lock()
	net, err := v.net.Clone()
	v.mu.Unlock()
	if err != nil {
		return nil, errors.WithMessage(err, "cannot clone the master network")
	}
	tr, err := prednet.NewTrainer(net)
	if err != nil {
		return nil, err
	}

	master, local := v.net.Model(), net.Model()
	grads := make([]G.ValueGrad, len(master))
	for i := range master {
		grads[i] = masterGrad{master: master[i], local: local[i]}
	}
	log.Debug().Int("worker", id).Int("learnables", len(grads)).Msg("created worker")
	return &worker{
		id:    id,
		v:     v,
		net:   net,
		tr:    tr,
		it:    it,
		grads: grads,
	}, nil
}

// run trains until every step is claimed, an error occurs or ctx is done.
func (w *worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		step, ok := w.v.claim()
		if !ok {
			return nil
		}
		if err := w.step(step); err != nil {
			return errors.WithMessagef(err, "worker %d, step %d", w.id, step)
		}
	}
}

func (w *worker) step(step int) error {
	frames, err := w.it.Next()
	if err != nil {
		return err
	}
	defer dataset.Release(frames)

	cost, err := w.tr.Run(frames)
	if err != nil {
		return err
	}
	if err = w.v.apply(w, step); err != nil {
		return err
	}
	if step%w.v.conf.RecordLossEvery == 0 || step == w.v.conf.Iterations {
		return w.v.record(w, step, cost, frames)
	}
	return nil
}

func (w *worker) Close() error { return w.tr.Close() }

func closeWorkers(workers []*worker) {
	for _, w := range workers {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Int("worker", w.id).Msg("closing worker")
		}
	}
}
