package prednet

import (
	"github.com/pkg/errors"
)

// Loss kinds understood by the training graph.
const (
	LossE   = "E"   // weighted layer errors
	LossMSE = "MSE" // pixel mean squared error against the next frames
	LossL1  = "L1"  // pixel mean absolute error against the next frames
)

// Config configures a PredNet.
//
// The per-layer slices must agree in length: StackSizes, RStackSizes,
// AhatKernelSizes and RKernelSizes have one entry per layer, AKernelSizes
// has one fewer because layer 0 is fed by the input frames.
type Config struct {
	InChannels      int   `yaml:"in_channels"`
	StackSizes      []int `yaml:"stack_sizes"`       // channels of A and Ahat per layer
	RStackSizes     []int `yaml:"r_stack_sizes"`     // channels of R per layer
	AKernelSizes    []int `yaml:"a_kernel_sizes"`    // len(StackSizes)-1
	AhatKernelSizes []int `yaml:"ahat_kernel_sizes"` // len(StackSizes)
	RKernelSizes    []int `yaml:"r_kernel_sizes"`    // len(StackSizes)

	UseSatLU bool    `yaml:"use_satlu"`
	SatLUAct string  `yaml:"satlu_act"`
	PixelMax float64 `yaml:"pixel_max"`

	ErrorAct string `yaml:"error_act"`
	LSTMAct  string `yaml:"lstm_act"`   // gates, and the squash of C_t
	LSTMCAct string `yaml:"lstm_c_act"` // candidate cell update

	Bias   bool `yaml:"bias"`
	UseOut bool `yaml:"use_1x1_out"` // 1x1 conv projection on the R output
	FC     bool `yaml:"fc"`          // gates also see the cell state

	// static graph dimensions
	BatchSize     int `yaml:"batch_size"`
	SeqLen        int `yaml:"seq_len"`
	Height, Width int

	// training graph
	Loss         string    `yaml:"loss"`
	LayerLambdas []float64 `yaml:"layer_lambdas"`
	FwdOnly      bool      `yaml:"-"` // is this a fwd only graph?
}

// DefaultConfig returns the four layer configuration used for KITTI sized inputs.
func DefaultConfig(height, width int) Config {
	return Config{
		InChannels:      3,
		StackSizes:      []int{3, 48, 96, 192},
		RStackSizes:     []int{3, 48, 96, 192},
		AKernelSizes:    []int{3, 3, 3},
		AhatKernelSizes: []int{3, 3, 3, 3},
		RKernelSizes:    []int{3, 3, 3, 3},

		UseSatLU: true,
		SatLUAct: "hardtanh",
		PixelMax: 1.0,

		ErrorAct: "relu",
		LSTMAct:  "tanh",
		LSTMCAct: "hardsigmoid",
		Bias:     true,

		BatchSize: 4,
		SeqLen:    10,
		Height:    height,
		Width:     width,

		Loss:         LossE,
		LayerLambdas: []float64{1, 0, 0, 0},
	}
}

// Layers returns the number of layers in the hierarchy.
func (conf Config) Layers() int { return len(conf.StackSizes) }

// Validate checks the whole configuration and reports every problem found.
func (conf Config) Validate() error {
	var errs manyErr
	nb := len(conf.StackSizes)
	if nb == 0 {
		errs = append(errs, errors.New("stack_sizes must name at least one layer"))
	}
	if len(conf.RStackSizes) != nb {
		errs = append(errs, errors.Errorf("len(R_stack_sizes) = %d must equal len(stack_sizes) = %d", len(conf.RStackSizes), nb))
	}
	if len(conf.AKernelSizes) != nb-1 {
		errs = append(errs, errors.Errorf("len(A_kernel_sizes) = %d must equal len(stack_sizes)-1 = %d", len(conf.AKernelSizes), nb-1))
	}
	if len(conf.AhatKernelSizes) != nb {
		errs = append(errs, errors.Errorf("len(Ahat_kernel_sizes) = %d must equal len(stack_sizes) = %d", len(conf.AhatKernelSizes), nb))
	}
	if len(conf.RKernelSizes) != nb {
		errs = append(errs, errors.Errorf("len(R_kernel_sizes) = %d must equal len(stack_sizes) = %d", len(conf.RKernelSizes), nb))
	}

	if conf.InChannels < 1 {
		errs = append(errs, errors.Errorf("in_channels must be positive, got %d", conf.InChannels))
	}
	if nb > 0 && conf.StackSizes[0] != conf.InChannels {
		errs = append(errs, errors.Errorf("stack_sizes[0] = %d must equal in_channels = %d", conf.StackSizes[0], conf.InChannels))
	}
	errs = append(errs, positive("stack_sizes", conf.StackSizes)...)
	errs = append(errs, positive("R_stack_sizes", conf.RStackSizes)...)
	errs = append(errs, oddKernels("A_kernel_sizes", conf.AKernelSizes)...)
	errs = append(errs, oddKernels("Ahat_kernel_sizes", conf.AhatKernelSizes)...)
	errs = append(errs, oddKernels("R_kernel_sizes", conf.RKernelSizes)...)

	for _, name := range []string{conf.ErrorAct, conf.LSTMAct, conf.LSTMCAct} {
		if _, err := resolve(name); err != nil {
			errs = append(errs, err)
		}
	}
	if conf.UseSatLU {
		if _, err := resolveSatLU(conf.SatLUAct, float32(conf.PixelMax)); err != nil {
			errs = append(errs, err)
		}
		if conf.PixelMax <= 0 {
			errs = append(errs, errors.Errorf("pixel_max must be positive, got %v", conf.PixelMax))
		}
	}

	if conf.BatchSize < 1 {
		errs = append(errs, errors.Errorf("batch_size must be positive, got %d", conf.BatchSize))
	}
	if conf.SeqLen < 2 {
		errs = append(errs, errors.Errorf("seq_len must be at least 2, got %d", conf.SeqLen))
	}
	if conf.Height < 1 || conf.Width < 1 {
		errs = append(errs, errors.Errorf("frame size %dx%d is not valid", conf.Height, conf.Width))
	} else if nb > 0 {
		if err := checkDims(conf.Height, conf.Width, nb); err != nil {
			errs = append(errs, err)
		}
	}

	if !conf.FwdOnly {
		switch conf.Loss {
		case LossE:
			if len(conf.LayerLambdas) != nb {
				errs = append(errs, errors.Errorf("len(layer_lambdas) = %d must equal len(stack_sizes) = %d", len(conf.LayerLambdas), nb))
			}
		case LossMSE, LossL1:
		default:
			errs = append(errs, errors.Errorf("unknown loss %q", conf.Loss))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsValid returns true if Validate finds no problem.
func (conf Config) IsValid() bool { return conf.Validate() == nil }

func positive(name string, a []int) (errs []error) {
	for i, v := range a {
		if v < 1 {
			errs = append(errs, errors.Errorf("%s[%d] must be positive, got %d", name, i, v))
		}
	}
	return
}

func oddKernels(name string, a []int) (errs []error) {
	for i, v := range a {
		if v < 1 || v%2 == 0 {
			errs = append(errs, errors.Errorf("%s[%d] must be a positive odd number, got %d", name, i, v))
		}
	}
	return
}
