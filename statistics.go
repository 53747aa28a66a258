package vidpred

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Statistics is the loss history of training.
type Statistics struct {
	Iterations []int       `json:"iterations"`
	Losses     []float32   `json:"loss"`
	LayerErrs  [][]float32 `json:"layer_errors"` // mean error of every layer over the steps after the first
}

func makeStatistics() Statistics {
	return Statistics{
		Iterations: make([]int, 0, 64),
		Losses:     make([]float32, 0, 64),
		LayerErrs:  make([][]float32, 0, 64),
	}
}

// update records the loss at step. errs is the (seq, layers) error output of the step.
func (s *Statistics) update(step int, loss float32, errs *tensor.Dense) {
	s.Iterations = append(s.Iterations, step)
	s.Losses = append(s.Losses, loss)
	s.LayerErrs = append(s.LayerErrs, layerMeans(errs))
}

// layerMeans averages a (seq, layers) error output over every step but the first.
func layerMeans(errs *tensor.Dense) []float32 {
	if errs == nil {
		return nil
	}
	seq, layers := errs.Shape()[0], errs.Shape()[1]
	data := errs.Data().([]float32)
	retVal := make([]float32, layers)
	if seq < 2 {
		return retVal
	}
	for t := 1; t < seq; t++ {
		for l := 0; l < layers; l++ {
			retVal[l] += data[t*layers+l]
		}
	}
	for l := range retVal {
		retVal[l] /= float32(seq - 1)
	}
	return retVal
}

// Dump writes the loss history as CSV, one row per recorded step.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)

	header := []string{"iteration", "loss"}
	if len(s.LayerErrs) > 0 {
		for l := range s.LayerErrs[0] {
			header = append(header, "E"+strconv.Itoa(l))
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}
	records := make([][]string, 0, len(s.Iterations))
	for i, iter := range s.Iterations {
		record := []string{strconv.Itoa(iter), strconv.FormatFloat(float64(s.Losses[i]), 'f', 6, 32)}
		for _, e := range s.LayerErrs[i] {
			record = append(record, strconv.FormatFloat(float64(e), 'f', 6, 32))
		}
		records = append(records, record)
	}
	// WriteAll flushes
	return w.WriteAll(records)
}

// Results is what a training run writes out: its loss history and, if the
// model was evaluated, the report.
type Results struct {
	Name  string      `json:"name"`
	Train *Statistics `json:"train"`
	Test  *Report     `json:"test,omitempty"`
}

// DumpResults writes the results of a run as JSON.
func DumpResults(filename string, res Results) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(res))
}
