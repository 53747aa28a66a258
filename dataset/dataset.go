// Package dataset loads video frames from disk and serves them as batches of
// fixed length sequences.
//
// Frames are laid out as
//
//	root/<source>/<frame>.png|jpg|jpeg
//
// A source is one continuous recording. Frames are ordered by file name.
// Sequences are cut from consecutive frames of a single source, so a sequence
// never crosses from one recording into the next.
package dataset

import (
	"image"
	_ "image/jpeg" // decoders
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"gorgonia.org/vecf32"
)

// Dataset is an in-memory set of sequences, each SeqLen frames of
// (Channels, Height, Width) values in [0, 1].
type Dataset struct {
	Shape

	seqs    [][]float32
	sources []string
}

// Load reads every source directory under root. Each source with n frames
// contributes n / SeqLen non-overlapping sequences; trailing frames are
// dropped. Frames are resized to Height x Width. Channels must be 1
// (luminance) or 3 (RGB).
func Load(root string, s Shape) (*Dataset, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read dataset root %q", root)
	}

	d := &Dataset{Shape: s}
	frameSize := s.Channels * s.Height * s.Width
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		source := e.Name()
		files, err := frameFiles(filepath.Join(root, source))
		if err != nil {
			return nil, err
		}
		n := len(files) / s.SeqLen
		if n == 0 {
			log.Warn().Str("source", source).Int("frames", len(files)).Msg("source is shorter than one sequence, skipping")
			continue
		}

		backing := make([]float32, n*s.SeqLen*frameSize)
		for i, f := range files[:n*s.SeqLen] {
			if err := readFrame(f, s, backing[i*frameSize:(i+1)*frameSize]); err != nil {
				return nil, err
			}
		}
		for i := 0; i < n; i++ {
			d.seqs = append(d.seqs, backing[i*s.SeqLen*frameSize:(i+1)*s.SeqLen*frameSize])
			d.sources = append(d.sources, source)
		}
		log.Debug().Str("source", source).Int("frames", len(files)).Int("sequences", n).Msg("loaded source")
	}
	if len(d.seqs) == 0 {
		return nil, errors.Errorf("no sequences of %d frames found under %q", s.SeqLen, root)
	}
	return d, nil
}

// FromSequences creates a dataset from sequences already in memory. Every
// sequence must hold s.Size() values.
func FromSequences(s Shape, seqs [][]float32, sources []string) (*Dataset, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, errors.New("no sequences")
	}
	if sources != nil && len(sources) != len(seqs) {
		return nil, errors.Errorf("%d sources for %d sequences", len(sources), len(seqs))
	}
	for i, seq := range seqs {
		if len(seq) != s.Size() {
			return nil, errors.Errorf("sequence %d has %d values, expected %d", i, len(seq), s.Size())
		}
	}
	if sources == nil {
		sources = make([]string, len(seqs))
	}
	return &Dataset{Shape: s, seqs: seqs, sources: sources}, nil
}

// Len is the number of sequences.
func (d *Dataset) Len() int { return len(d.seqs) }

// Sequence returns the i-th sequence. It must not be modified.
func (d *Dataset) Sequence(i int) []float32 { return d.seqs[i] }

// Source returns the name of the recording the i-th sequence was cut from.
func (d *Dataset) Source(i int) string { return d.sources[i] }

func (s Shape) validate() error {
	if s.SeqLen < 1 || s.Height < 1 || s.Width < 1 {
		return errors.Errorf("invalid sequence shape %+v", s)
	}
	if s.Channels != 1 && s.Channels != 3 {
		return errors.Errorf("only 1 or 3 channels are supported, got %d", s.Channels)
	}
	return nil
}

func frameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read source %q", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func readFrame(filename string, s Shape, dst []float32) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return errors.Wrapf(err, "cannot decode frame %q", filename)
	}
	FrameFromImage(img, s.Channels, s.Height, s.Width, dst)
	return nil
}

// FrameFromImage resizes img to height x width and writes it into dst as
// channel-major planes in [0, 1].
func FrameFromImage(img image.Image, channels, height, width int, dst []float32) {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Dx() != width || rgba.Bounds().Dy() != height {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.BiLinear.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := rgba.PixOffset(x+rgba.Rect.Min.X, y+rgba.Rect.Min.Y)
			r, g, b := float32(rgba.Pix[off]), float32(rgba.Pix[off+1]), float32(rgba.Pix[off+2])
			i := y*width + x
			if channels == 1 {
				dst[i] = 0.299*r + 0.587*g + 0.114*b
				continue
			}
			dst[i] = r
			dst[plane+i] = g
			dst[2*plane+i] = b
		}
	}
	vecf32.Scale(dst[:channels*plane], 1.0/255)
}
