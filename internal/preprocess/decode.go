package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type container int

const (
	containerRaster container = iota
	containerHEIC
	containerPDF
)

// sniff identifies containers the standard decoders cannot read.
func sniff(data []byte) container {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return containerPDF
	}
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heix", "heif", "hevc", "mif1", "msf1":
			return containerHEIC
		}
	}
	return containerRaster
}

// decode reads data into an upright image. HEIC and PDF go through their own decoders and
// anything left unreadable is handed to the external converter.
func (p *Preprocessor) decode(ctx context.Context, data []byte) (image.Image, error) {
	switch sniff(data) {
	case containerPDF:
		img, err := renderPDF(data)
		if err == nil {
			return img, nil
		}
		p.logger.Warn().Err(err).Msg("pdf render failed, trying converter")
	case containerHEIC:
		img, err := heic.Decode(bytes.NewReader(data))
		if err == nil {
			return img, nil
		}
		p.logger.Warn().Err(err).Msg("heic decode failed, trying converter")
	default:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err == nil {
			return img, nil
		}
		p.logger.Debug().Err(err).Msg("native decode failed, trying converter")
	}
	return p.convert(ctx, data)
}

func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Receipts are a single page.
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func (p *Preprocessor) convert(ctx context.Context, data []byte) (image.Image, error) {
	if p.cfg.Converter == "" {
		return nil, fmt.Errorf("unsupported image format and no converter configured")
	}
	out, _, err := p.runner.Run(ctx, data, p.cfg.Converter, p.cfg.ConverterArgs...)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", p.cfg.Converter, err)
	}
	img, err := imaging.Decode(bytes.NewReader(out), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding converter output: %w", err)
	}
	return img, nil
}
