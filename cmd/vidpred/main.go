package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/gorgonia/vidpred"
	"github.com/gorgonia/vidpred/dataset"
	"github.com/gorgonia/vidpred/encoding/gif"
	"github.com/gorgonia/vidpred/encoding/mjpeg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	configFlag := &cli.StringFlag{
		Name:  "config",
		Usage: "YAML configuration file; defaults are used when empty",
	}
	modelFlag := &cli.StringFlag{
		Name:  "model",
		Usage: "checkpoint written by train (.gob) or a PyTorch state_dict (.pt, .pth, .pkl)",
	}

	app := &cli.App{
		Name:  "vidpred",
		Usage: "Train and evaluate PredNet video frame predictors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "set log level (trace, debug, info, warn, error, fatal, panic)",
				Action: func(c *cli.Context, s string) error {
					return setLogLevel(s)
				},
				Value:   "info",
				EnvVars: []string{"VIDPRED_LOGLEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "train",
				Usage: "Train a network on a directory of frame sequences",
				Flags: []cli.Flag{
					configFlag,
					modelFlag,
					&cli.StringFlag{Name: "data", Usage: "training frames, one sub directory per video", Required: true},
					&cli.StringFlag{Name: "val", Usage: "evaluation frames, evaluated after training"},
					&cli.StringFlag{Name: "out", Usage: "output directory", Value: "."},
					&cli.StringFlag{Name: "gif", Usage: "animate the recorded predictions into this file"},
					&cli.StringFlag{Name: "address", Usage: "serve progress on /ws and predictions on /stream"},
					&cli.IntFlag{Name: "scale", Usage: "upscale factor of rendered frames", Value: 2},
				},
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()
					return train(ctx, c)
				},
			},
			{
				Name:  "test",
				Usage: "Evaluate a trained network",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: modelFlag.Name, Usage: modelFlag.Usage, Required: true},
					&cli.StringFlag{Name: "data", Usage: "test frames, one sub directory per video", Required: true},
					&cli.StringFlag{Name: "results", Usage: "write the report as JSON into this file"},
					&cli.StringFlag{Name: "gif", Usage: "animate the predictions of the first batch into this file"},
					&cli.IntFlag{Name: "scale", Usage: "upscale factor of rendered frames", Value: 2},
				},
				Action: test,
			},
			{
				Name:  "convert",
				Usage: "Convert a PyTorch state_dict into a checkpoint",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "torch", Usage: "PyTorch state_dict", Required: true},
					&cli.StringFlag{Name: "out", Usage: "checkpoint to write", Value: "prednet.gob"},
				},
				Action: convert,
			},
			{
				Name:  "dot",
				Usage: "Print the architecture as a graphviz DOT graph",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "out", Usage: "file to write; stdout when empty"},
				},
				Action: dot,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func setLogLevel(s string) error {
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return err
	}
	log.Logger = log.Level(level)
	return nil
}

func loadConfig(c *cli.Context) (vidpred.Config, error) {
	if filename := c.String("config"); filename != "" {
		return vidpred.LoadConfig(filename)
	}
	return vidpred.DefaultConfig(128, 160), nil
}

func shapeOf(conf vidpred.Config) dataset.Shape {
	return dataset.Shape{
		SeqLen:   conf.Net.SeqLen,
		Channels: conf.Net.InChannels,
		Height:   conf.Net.Height,
		Width:    conf.Net.Width,
	}
}

// loadModel fills the master network of v from a checkpoint, chosen by extension.
func loadModel(v *vidpred.VP, filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pt", ".pth", ".pkl":
		return v.LoadTorch(filename)
	default:
		return v.Load(filename)
	}
}

func train(ctx context.Context, c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	out := c.String("out")
	if err = os.MkdirAll(out, 0755); err != nil {
		return errors.WithStack(err)
	}

	var encs multiEncoder
	if filename := c.String("gif"); filename != "" {
		f, err := os.Create(filename)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		encs = append(encs, gif.NewGifEncoder(f, c.Int("scale"), float32(conf.Net.PixelMax)))
	}
	if addr := c.String("address"); addr != "" {
		progress := NewEncoder()
		stream := mjpeg.NewEncoder(c.Int("scale"), float32(conf.Net.PixelMax))
		encs = append(encs, progress, stream)
		go serve(addr, progress, stream)
	}
	if len(encs) > 0 {
		conf.OutputEncoder = encs
	}

	v, err := vidpred.New(conf)
	if err != nil {
		return err
	}
	if filename := c.String("model"); filename != "" {
		if err = loadModel(v, filename); err != nil {
			return err
		}
	}
	ds, err := dataset.Load(c.String("data"), shapeOf(conf))
	if err != nil {
		return err
	}

	learnErr := v.Learn(ctx, ds)
	if learnErr != nil && learnErr != context.Canceled {
		return learnErr
	}
	// an interrupted run still keeps what it learnt
	if err = v.Save(filepath.Join(out, "model.gob")); err != nil {
		return err
	}
	if err = v.Statistics.Dump(filepath.Join(out, "loss.csv")); err != nil {
		return err
	}
	if err = encs.Flush(); err != nil {
		return err
	}

	res := vidpred.Results{Name: conf.Name, Train: &v.Statistics}
	if dir := c.String("val"); dir != "" && learnErr == nil {
		val, err := dataset.Load(dir, shapeOf(conf))
		if err != nil {
			return err
		}
		if res.Test, err = v.Evaluate(val); err != nil {
			return err
		}
	}
	return vidpred.DumpResults(filepath.Join(out, "results.json"), res)
}

func test(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	v, err := vidpred.New(conf)
	if err != nil {
		return err
	}
	if err = loadModel(v, c.String("model")); err != nil {
		return err
	}
	ds, err := dataset.Load(c.String("data"), shapeOf(conf))
	if err != nil {
		return err
	}
	r, err := v.Evaluate(ds)
	if err != nil {
		return err
	}
	fmt.Printf("sequences:            %d\n", r.Sequences)
	fmt.Printf("prediction MSE:       %.6f\n", r.MSE)
	fmt.Printf("previous frame MSE:   %.6f\n", r.PrevFrameMSE)
	for l, e := range r.LayerErrors {
		fmt.Printf("layer %d mean error:   %.6f\n", l, e)
	}

	if filename := c.String("results"); filename != "" {
		if err = vidpred.DumpResults(filename, vidpred.Results{Name: conf.Name, Test: r}); err != nil {
			return err
		}
	}
	if filename := c.String("gif"); filename != "" {
		return animate(v, ds, filename, c.Int("scale"))
	}
	return nil
}

// animate writes the predictions of the first batch of ds into a GIF.
func animate(v *vidpred.VP, ds *dataset.Dataset, filename string, scale int) error {
	conf := v.Config()
	n := conf.Net.BatchSize
	if n > ds.Len() {
		n = ds.Len()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	frames, err := ds.Batch(idx...)
	if err != nil {
		return err
	}
	preds, _, err := v.Predict(frames)
	if err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	enc := gif.NewGifEncoder(f, scale, float32(conf.Net.PixelMax))
	for i := 0; i < n; i++ {
		enc.Sequence = i
		if err = enc.Encode(prediction{name: ds.Source(i), frames: frames, preds: preds}); err != nil {
			return err
		}
	}
	return enc.Flush()
}

func convert(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	v, err := vidpred.New(conf)
	if err != nil {
		return err
	}
	if err = v.LoadTorch(c.String("torch")); err != nil {
		return err
	}
	return v.Save(c.String("out"))
}

func dot(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	v, err := vidpred.New(conf)
	if err != nil {
		return err
	}
	s, err := v.PredNet().ToDot()
	if err != nil {
		return err
	}
	if filename := c.String("out"); filename != "" {
		return errors.WithStack(os.WriteFile(filename, []byte(s), 0644))
	}
	_, err = fmt.Println(s)
	return err
}

func serve(addr string, progress, stream http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/ws", progress)
	mux.Handle("/stream", stream)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	log.Info().Str("address", addr).Msg("serving progress on /ws and predictions on /stream")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("http server stopped")
	}
}
