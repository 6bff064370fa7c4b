// Package ocr drives text recognition: a long-lived on-device engine session and an
// orchestrator that falls back to a cloud engine when the primary result is unusable.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrEngineConfiguration is returned when an engine client exposes no supported
	// initialization sequence.
	ErrEngineConfiguration = errors.New("unsupported OCR engine configuration")
	// ErrSessionClosed is returned by a Session after Close.
	ErrSessionClosed = errors.New("OCR session closed")
)

// Recognition is one engine's output. Confidence uses the engine's 0-100 scale.
type Recognition struct {
	Text       string
	Confidence float64
}

// Recognizer is the capability every engine client must have.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (Recognition, error)
}

// Loader engines load their core data before anything else.
type Loader interface {
	Load(ctx context.Context) error
}

// LanguageLoader engines load trained data for a language separately.
type LanguageLoader interface {
	LoadLanguage(ctx context.Context, lang string) error
}

// Initializer engines start up for a language.
type Initializer interface {
	Initialize(ctx context.Context, lang string) error
}

// Configurer engines accept runtime parameters.
type Configurer interface {
	Configure(params map[string]string) error
}

// Strategy is the initialization sequence chosen for a client.
type Strategy string

const (
	// StrategyFull runs Load, LoadLanguage, Initialize then Configure.
	StrategyFull Strategy = "full"
	// StrategyLanguage runs LoadLanguage, Initialize then Configure.
	StrategyLanguage Strategy = "language"
	// StrategyInitialize runs Initialize then Configure.
	StrategyInitialize Strategy = "initialize"
	// StrategyPreloaded only runs Configure.
	StrategyPreloaded Strategy = "preloaded"
)

// Whitelist restricts recognition to characters that appear on receipts.
const Whitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789$£€.,:;-/@#%&*()'+!? "

// DefaultParams restrict the character set and turn off dictionary correction, which
// would otherwise rewrite amounts into words.
func DefaultParams() map[string]string {
	return map[string]string{
		"tessedit_char_whitelist": Whitelist,
		"load_system_dawg":        "0",
		"load_freq_dawg":          "0",
	}
}

// DetectStrategy picks the initialization sequence client supports.
func DetectStrategy(client any) (Strategy, error) {
	_, recognizes := client.(Recognizer)
	_, loads := client.(Loader)
	_, loadsLang := client.(LanguageLoader)
	_, initializes := client.(Initializer)
	_, configures := client.(Configurer)

	switch {
	case recognizes && loads && loadsLang && initializes && configures:
		return StrategyFull, nil
	case recognizes && loadsLang && initializes && configures:
		return StrategyLanguage, nil
	case recognizes && initializes && configures:
		return StrategyInitialize, nil
	case recognizes && configures:
		return StrategyPreloaded, nil
	}

	var exposed []string
	for name, ok := range map[string]bool{
		"load": loads, "loadLanguage": loadsLang, "initialize": initializes,
		"configure": configures, "recognize": recognizes,
	} {
		if ok {
			exposed = append(exposed, name)
		}
	}
	sort.Strings(exposed)
	return "", fmt.Errorf("%w: client %T exposes [%s]", ErrEngineConfiguration, client, strings.Join(exposed, ", "))
}

// SessionConfig configures engine start-up.
type SessionConfig struct {
	Language string
	Params   map[string]string
}

// Session owns one engine client for the life of the process. Initialization runs on the
// first Recognize and calls are serialized, since engines are not safe for concurrent use.
// A caller waiting for its turn gives up when its context ends.
type Session struct {
	// turn holds a token while a call owns the engine.
	turn     chan struct{}
	mu       sync.Mutex
	client   any
	strategy Strategy
	cfg      SessionConfig
	ready    bool
	closed   bool
	logger   zerolog.Logger
}

// NewSession checks client's capabilities and returns a session that will initialize it
// lazily.
func NewSession(client any, cfg SessionConfig, logger zerolog.Logger) (*Session, error) {
	strategy, err := DetectStrategy(client)
	if err != nil {
		return nil, err
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Params == nil {
		cfg.Params = DefaultParams()
	}
	logger.Debug().Str("strategy", string(strategy)).Str("client", fmt.Sprintf("%T", client)).Msg("OCR engine capabilities detected")
	return &Session{turn: make(chan struct{}, 1), client: client, strategy: strategy, cfg: cfg, logger: logger}, nil
}

// Strategy reports the initialization sequence in use.
func (s *Session) Strategy() Strategy {
	return s.strategy
}

// Recognize runs the engine on img, initializing it first if needed. It returns ctx's
// error if another recognition still holds the engine when ctx ends.
func (s *Session) Recognize(ctx context.Context, img []byte) (Recognition, error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return Recognition{}, fmt.Errorf("waiting for OCR engine: %w", ctx.Err())
	}
	defer func() { <-s.turn }()

	if s.isClosed() {
		return Recognition{}, ErrSessionClosed
	}
	if !s.ready {
		if err := s.initialize(ctx); err != nil {
			return Recognition{}, err
		}
		s.ready = true
	}
	return s.client.(Recognizer).Recognize(ctx, img)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) initialize(ctx context.Context) error {
	lang := s.cfg.Language
	if s.strategy == StrategyFull {
		if err := s.client.(Loader).Load(ctx); err != nil {
			return fmt.Errorf("loading OCR engine: %w", err)
		}
	}
	if s.strategy == StrategyFull || s.strategy == StrategyLanguage {
		if err := s.client.(LanguageLoader).LoadLanguage(ctx, lang); err != nil {
			return fmt.Errorf("loading OCR language %q: %w", lang, err)
		}
	}
	if s.strategy != StrategyPreloaded {
		if err := s.client.(Initializer).Initialize(ctx, lang); err != nil {
			return fmt.Errorf("initializing OCR engine: %w", err)
		}
	}
	if err := s.client.(Configurer).Configure(s.cfg.Params); err != nil {
		return fmt.Errorf("configuring OCR engine: %w", err)
	}
	s.logger.Info().Str("strategy", string(s.strategy)).Str("language", lang).Msg("OCR engine initialized")
	return nil
}

// Close refuses further work and releases the engine once an in-flight recognition
// finishes. An engine that never returns blocks Close, so callers bound it with ctx;
// the engine is then left to the process exit.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("closing OCR engine: %w", ctx.Err())
	}
	defer func() { <-s.turn }()

	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
