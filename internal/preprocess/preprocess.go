// Package preprocess turns photographed receipts of any format into a grayscale PNG tuned
// for text recognition.
package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// ErrPreprocessing is returned when an image cannot be decoded even by the minimal pass.
var ErrPreprocessing = errors.New("preprocessing failed")

// Config tunes the enhancement pipeline.
type Config struct {
	// MinWidth is the working width small images are upscaled towards.
	MinWidth int
	// MaxScale caps the upscale factor so blurry photos are not blown up further.
	MaxScale     float64
	Gamma        float64
	SharpenSigma float64
	// Converter is the external command used for formats the built-in decoders reject.
	// It receives the image on stdin and must write upright PNG to stdout.
	Converter     string
	ConverterArgs []string
}

// DefaultConfig returns the settings tuned for phone photos of till receipts.
func DefaultConfig() Config {
	return Config{
		MinWidth:      1800,
		MaxScale:      3.0,
		Gamma:         1.15,
		SharpenSigma:  1.0,
		Converter:     "magick",
		ConverterArgs: []string{"-", "-auto-orient", "png:-"},
	}
}

// Preprocessor normalizes raw images for OCR.
type Preprocessor struct {
	cfg    Config
	runner Runner
	logger zerolog.Logger
}

// New creates a Preprocessor. A nil runner executes converter commands directly.
func New(cfg Config, runner Runner, logger zerolog.Logger) *Preprocessor {
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Preprocessor{cfg: cfg, runner: runner, logger: logger}
}

// Process decodes data and runs the full enhancement pipeline, returning a grayscale PNG.
// When any enhancement step fails it falls back to decoding and re-encoding only.
func (p *Preprocessor) Process(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrPreprocessing)
	}

	out, err := p.enhance(ctx, data)
	if err == nil {
		return out, nil
	}
	p.logger.Warn().Err(err).Msg("enhancement failed, using minimal pass")

	out, merr := p.minimal(ctx, data)
	if merr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreprocessing, merr)
	}
	return out, nil
}

func (p *Preprocessor) enhance(ctx context.Context, data []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image pipeline panic: %v", r)
		}
	}()

	img, err := p.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	nrgba := flatten(img)
	nrgba = p.upscale(nrgba)
	nrgba = imaging.Grayscale(nrgba)
	nrgba = stretchContrast(nrgba, 0.01)
	if p.cfg.Gamma > 0 && p.cfg.Gamma != 1 {
		nrgba = imaging.AdjustGamma(nrgba, p.cfg.Gamma)
	}
	nrgba = median3(nrgba)
	if p.cfg.SharpenSigma > 0 {
		nrgba = imaging.Sharpen(nrgba, p.cfg.SharpenSigma)
	}

	return encodeGray(nrgba)
}

func (p *Preprocessor) minimal(ctx context.Context, data []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("minimal pass panic: %v", r)
		}
	}()

	img, err := p.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	return encodeGray(flatten(img))
}

// flatten composites img over an opaque white canvas.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func (p *Preprocessor) upscale(img *image.NRGBA) *image.NRGBA {
	w := img.Bounds().Dx()
	if w == 0 || p.cfg.MinWidth <= 0 || w >= p.cfg.MinWidth {
		return img
	}
	scale := float64(p.cfg.MinWidth) / float64(w)
	if p.cfg.MaxScale > 0 {
		scale = math.Min(scale, p.cfg.MaxScale)
	}
	if scale <= 1 {
		return img
	}
	return imaging.Resize(img, int(math.Round(float64(w)*scale)), 0, imaging.Lanczos)
}

func encodeGray(img image.Image) ([]byte, error) {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
