package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Augmenter transforms a sequence in place. The same transform must be
// applied to every frame, so the motion stays consistent.
type Augmenter func(seq []float32, s Shape, r *rand.Rand) error

// Shape describes the layout of one sequence: SeqLen frames of Channels
// planes of Height x Width pixels.
type Shape struct {
	SeqLen, Channels, Height, Width int
}

// Size is the number of values in a sequence.
func (s Shape) Size() int { return s.SeqLen * s.Channels * s.Height * s.Width }

// RandomFlip mirrors the whole sequence left to right with probability p.
func RandomFlip(p float64) Augmenter {
	return func(seq []float32, s Shape, r *rand.Rand) error {
		if r.Float64() >= p {
			return nil
		}
		return FlipHorizontal(seq, s)
	}
}

// Chain applies the augmenters in order.
func Chain(augs ...Augmenter) Augmenter {
	return func(seq []float32, s Shape, r *rand.Rand) error {
		for _, aug := range augs {
			if err := aug(seq, s, r); err != nil {
				return err
			}
		}
		return nil
	}
}

// FlipHorizontal mirrors every plane of seq left to right, in place.
func FlipHorizontal(seq []float32, s Shape) error {
	if len(seq) != s.Size() {
		return errors.Errorf("Cannot flip a sequence of %d values with shape %+v", len(seq), s)
	}
	plane := s.Height * s.Width
	for start := 0; start < len(seq); start += plane {
		it := rows(seq[start:start+plane], s.Height, s.Width)
		for _, row := range it {
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
		returnRows(it)
	}
	return nil
}
