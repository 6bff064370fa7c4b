package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/zombor/receipt-scanner/internal/metrics"
)

// ErrRecognitionUnavailable is returned when neither engine could be reached.
var ErrRecognitionUnavailable = errors.New("no OCR engine available")

var errTimeout = errors.New("OCR timed out")

const (
	// DefaultTimeout bounds a primary recognition.
	DefaultTimeout = 30 * time.Second
	// DefaultMinConfidence is the 0-1 confidence below which the fallback is consulted.
	DefaultMinConfidence = 0.55
)

// Engine is a named recognizer used by the Orchestrator.
type Engine struct {
	Name string
	Recognizer
}

// Result is the outcome of orchestrated recognition. Confidence is on a 0-1 scale.
type Result struct {
	Text       string
	Confidence float64
	Engine     string
	FellBack   bool
}

// Config tunes fallback.
type Config struct {
	Timeout       time.Duration
	MinConfidence float64
}

// DefaultConfig returns the standard timeout and confidence threshold.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, MinConfidence: DefaultMinConfidence}
}

// Orchestrator runs the primary engine and, when its result is unusable, the fallback.
type Orchestrator struct {
	primary  Engine
	fallback *Engine
	cfg      Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewOrchestrator returns an Orchestrator. fallback may be nil.
func NewOrchestrator(primary Engine, fallback *Engine, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Orchestrator{primary: primary, fallback: fallback, cfg: cfg, metrics: m, logger: logger}
}

// Recognize extracts text from a preprocessed image. An empty Result with a nil error
// means no engine produced text.
func (o *Orchestrator) Recognize(ctx context.Context, img []byte) (Result, error) {
	rec, primaryErr := o.recognizePrimary(ctx, img)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	primary := Result{
		Text:       strings.TrimSpace(rec.Text),
		Confidence: normalizeConfidence(rec.Confidence),
		Engine:     o.primary.Name,
	}

	var reason string
	switch {
	case errors.Is(primaryErr, errTimeout):
		reason = "timeout"
	case primaryErr != nil:
		reason = "error"
	case primary.Text == "":
		reason = "empty"
	case primary.Confidence < o.cfg.MinConfidence:
		reason = "low_confidence"
	default:
		return primary, nil
	}

	o.logger.Info().Str("reason", reason).Float64("confidence", primary.Confidence).AnErr("error", primaryErr).Msg("primary OCR result unusable")
	if o.fallback != nil {
		o.metrics.Fallback(reason)
	}

	fallback, fallbackErr := o.recognizeFallback(ctx, img)
	if fallbackErr == nil && fallback.Text != "" {
		return fallback, nil
	}
	if primary.Text != "" {
		o.logger.Debug().Msg("keeping low-confidence primary text")
		return primary, nil
	}

	// A slow primary with no fallback is not a failure; every other failed engine is.
	fallbackFailed := o.fallback != nil && fallbackErr != nil
	noFallback := o.fallback == nil && !errors.Is(primaryErr, errTimeout)
	if primaryErr != nil && (fallbackFailed || noFallback) {
		return Result{}, fmt.Errorf("%w: %w", ErrRecognitionUnavailable, multierr.Combine(primaryErr, fallbackErr))
	}
	return Result{}, nil
}

func (o *Orchestrator) recognizePrimary(ctx context.Context, img []byte) (rec Recognition, err error) {
	type outcome struct {
		rec Recognition
		err error
	}

	start := time.Now()
	defer func() {
		o.metrics.Recognition(o.primary.Name, outcomeLabel(err), time.Since(start))
	}()

	// The engine sees the deadline too, so a call still queued behind a hung one gives up.
	tctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	// Buffered so an abandoned recognition can still deliver and exit.
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("OCR engine panicked: %v", r)}
			}
		}()
		rec, err := o.primary.Recognize(tctx, img)
		ch <- outcome{rec: rec, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && ctx.Err() == nil && errors.Is(out.err, context.DeadlineExceeded) {
			return Recognition{}, errTimeout
		}
		return out.rec, out.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return Recognition{}, ctx.Err()
		}
		return Recognition{}, errTimeout
	}
}

func (o *Orchestrator) recognizeFallback(ctx context.Context, img []byte) (Result, error) {
	if o.fallback == nil {
		return Result{}, nil
	}

	start := time.Now()
	rec, err := o.fallback.Recognize(ctx, img)
	o.metrics.Recognition(o.fallback.Name, outcomeLabel(err), time.Since(start))
	if err != nil {
		o.logger.Warn().Err(err).Str("engine", o.fallback.Name).Msg("fallback OCR failed")
		return Result{}, err
	}
	return Result{
		Text:       strings.TrimSpace(rec.Text),
		Confidence: normalizeConfidence(rec.Confidence),
		Engine:     o.fallback.Name,
		FellBack:   true,
	}, nil
}

func normalizeConfidence(c float64) float64 {
	c /= 100
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errTimeout):
		return "timeout"
	}
	return "error"
}
