package vidpred

import (
	"bytes"
	"fmt"
	"os"

	"github.com/gorgonia/vidpred/prednet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config configures training.
type Config struct {
	Name string         `yaml:"name"`
	Net  prednet.Config `yaml:"net"`

	Workers         int     `yaml:"workers"`    // number of concurrent training workers
	Iterations      int     `yaml:"iterations"` // optimizer steps, shared by all workers
	LearningRate    float64 `yaml:"learning_rate"`
	LRSteps         int     `yaml:"lr_steps"` // times the learning rate is divided by 10
	RecordLossEvery int     `yaml:"record_loss_every"`
	Seed            int64   `yaml:"seed"`
	Flip            bool    `yaml:"flip"` // random horizontal flips of training sequences

	// extensions
	OutputEncoder OutputEncoder `yaml:"-"`
}

// DefaultConfig is the KITTI setup: 4 layers, Adam at 0.001 for 75000 steps.
func DefaultConfig(height, width int) Config {
	return Config{
		Name:            "PredNet",
		Net:             prednet.DefaultConfig(height, width),
		Workers:         2,
		Iterations:      75000,
		LearningRate:    0.001,
		LRSteps:         1,
		RecordLossEvery: 20,
	}
}

// LoadConfig reads a YAML file on top of the default configuration.
func LoadConfig(filename string) (Config, error) {
	conf := DefaultConfig(128, 160)
	b, err := os.ReadFile(filename)
	if err != nil {
		return conf, errors.WithStack(err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err = dec.Decode(&conf); err != nil {
		return conf, errors.Wrapf(err, "cannot parse config %q", filename)
	}
	return conf, nil
}

// Validate reports every problem with the configuration.
func (conf Config) Validate() error {
	var errs manyErr
	if err := conf.Net.Validate(); err != nil {
		errs = append(errs, errors.WithMessage(err, "net"))
	}
	if conf.Net.FwdOnly {
		errs = append(errs, errors.New("cannot train a forward only net"))
	}
	if conf.Workers < 1 {
		errs = append(errs, errors.Errorf("workers must be positive, got %d", conf.Workers))
	}
	if conf.Iterations < 1 {
		errs = append(errs, errors.Errorf("iterations must be positive, got %d", conf.Iterations))
	}
	if conf.LearningRate <= 0 {
		errs = append(errs, errors.Errorf("learning_rate must be positive, got %v", conf.LearningRate))
	}
	if conf.LRSteps < 0 {
		errs = append(errs, errors.Errorf("lr_steps must not be negative, got %d", conf.LRSteps))
	}
	if conf.RecordLossEvery < 1 {
		errs = append(errs, errors.Errorf("record_loss_every must be positive, got %d", conf.RecordLossEvery))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsValid returns true when Validate finds nothing wrong.
func (conf Config) IsValid() bool { return conf.Validate() == nil }

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}
