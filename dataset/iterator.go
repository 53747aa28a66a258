package dataset

import (
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Iterator serves batches shaped (batch, seq, channels, height, width).
//
// A shuffled iterator never ends: it reshuffles at every epoch and drops the
// sequences that do not fill a last batch. An ordered iterator makes a single
// pass, returning a short last batch and then io.EOF.
type Iterator struct {
	d         *Dataset
	batchSize int
	r         *rand.Rand // nil for ordered iterators
	aug       Augmenter

	order []int
	pos   int
	epoch int
}

// Shuffled returns an endless iterator over d. aug may be nil.
func (d *Dataset) Shuffled(batchSize int, seed int64, aug Augmenter) *Iterator {
	it := &Iterator{
		d:         d,
		batchSize: batchSize,
		r:         rand.New(rand.NewSource(seed)),
		aug:       aug,
		order:     make([]int, d.Len()),
	}
	for i := range it.order {
		it.order[i] = i
	}
	it.shuffle()
	return it
}

// Ordered returns an iterator that visits every sequence of d once, in order.
func (d *Dataset) Ordered(batchSize int) *Iterator {
	it := &Iterator{
		d:         d,
		batchSize: batchSize,
		order:     make([]int, d.Len()),
	}
	for i := range it.order {
		it.order[i] = i
	}
	return it
}

// Batches is the number of batches in an epoch.
func (it *Iterator) Batches() int {
	if it.r != nil {
		return len(it.order) / it.batchSize
	}
	return (len(it.order) + it.batchSize - 1) / it.batchSize
}

// Epoch is the number of completed passes over the data.
func (it *Iterator) Epoch() int { return it.epoch }

// Next returns the next batch. The backing of the batch comes from a pool;
// give it back with Release once the batch is no longer used.
func (it *Iterator) Next() (*tensor.Dense, error) {
	if it.r != nil && len(it.order) < it.batchSize {
		return nil, errors.Errorf("dataset of %d sequences cannot fill a batch of %d", len(it.order), it.batchSize)
	}
	if it.pos >= len(it.order) || (it.r != nil && it.pos+it.batchSize > len(it.order)) {
		it.epoch++
		it.pos = 0
		if it.r == nil {
			return nil, io.EOF
		}
		it.shuffle()
	}

	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	idx := it.order[it.pos:end]
	it.pos = end
	return it.d.batch(idx, it.aug, it.r)
}

// Release returns the backing of a batch made by Next to the pool.
func Release(batch *tensor.Dense) {
	if batch == nil {
		return
	}
	if data, ok := batch.Data().([]float32); ok {
		ReturnFrames(data)
	}
}

func (it *Iterator) shuffle() {
	it.r.Shuffle(len(it.order), func(i, j int) { it.order[i], it.order[j] = it.order[j], it.order[i] })
}

// Batch copies the sequences at idx into a new tensor, without augmentation.
func (d *Dataset) Batch(idx ...int) (*tensor.Dense, error) { return d.batch(idx, nil, nil) }

func (d *Dataset) batch(idx []int, aug Augmenter, r *rand.Rand) (*tensor.Dense, error) {
	size := d.Size()
	backing := borrowFrames(len(idx) * size)
	for i, j := range idx {
		if j < 0 || j >= d.Len() {
			ReturnFrames(backing)
			return nil, errors.Errorf("sequence %d out of range [0, %d)", j, d.Len())
		}
		seq := backing[i*size : (i+1)*size]
		copy(seq, d.seqs[j])
		if aug == nil {
			continue
		}
		if err := aug(seq, d.Shape, r); err != nil {
			ReturnFrames(backing)
			return nil, err
		}
	}
	return tensor.New(tensor.WithShape(len(idx), d.SeqLen, d.Channels, d.Height, d.Width), tensor.WithBacking(backing)), nil
}
