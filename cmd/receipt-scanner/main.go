package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/metrics"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/ocr/tesseract"
	"github.com/zombor/receipt-scanner/internal/parser"
	"github.com/zombor/receipt-scanner/internal/pipeline"
	"github.com/zombor/receipt-scanner/internal/preprocess"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/validator"
	"github.com/zombor/receipt-scanner/internal/vocab"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port          int
	dbPath        string
	storagePath   string
	extract       string
	vocabPath     string
	language      string
	monthFirst    bool
	currency      string
	ocrTimeout    time.Duration
	minConfidence float64
	converter     string
	fallback      string
	geminiKey     string
	geminiModel   string
	ollamaURL     string
	ollamaModel   string
	openaiKey     string
	openaiURL     string
	openaiModel   string
	authUser      string
	authPass      string
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-scanner")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "receipts.db", "database file path")
		storagePath   = fs.StringLong("storage", "./uploads", "upload storage directory")
		extract       = fs.StringLong("extract", "", "extract a single image or .json email payload, print the result and exit")
		vocabPath     = fs.StringLong("vocab", "", "YAML vocabulary file replacing the built-in merchants and keywords")
		language      = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		monthFirst    = fs.BoolLong("month-first", "read ambiguous numeric dates as MM/DD")
		currency      = fs.StringLong("currency", "USD", "default ISO 4217 currency for emails without one")
		ocrTimeout    = fs.DurationLong("ocr-timeout", ocr.DefaultTimeout, "primary OCR timeout")
		minConfidence = fs.Float64Long("min-confidence", ocr.DefaultMinConfidence, "primary OCR confidence (0-1) below which the fallback is used")
		converter     = fs.StringLong("converter", "magick", "external image converter for formats that cannot be decoded natively")
		fallback      = fs.StringLong("fallback", "none", "cloud OCR fallback: none, gemini, ollama or openai")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or GEMINI_API_KEY)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		openaiKey     = fs.StringLong("openai-key", "", "OpenAI API key (or OPENAI_API_KEY)")
		openaiURL     = fs.StringLong("openai-url", "", "OpenAI-compatible API base URL")
		openaiModel   = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		authUser      = fs.StringLong("auth-user", "", "basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "log level: debug, info, warn or error")
		logFormat     = fs.StringLong("log-format", "console", "log format: console or json")
		_             = fs.StringLong("config", "", "config file (flag value pairs, one per line)")
		_             = fs.BoolLong("version", "show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg := config{
		port:          *port,
		dbPath:        *dbPath,
		storagePath:   *storagePath,
		extract:       *extract,
		vocabPath:     *vocabPath,
		language:      *language,
		monthFirst:    *monthFirst,
		currency:      *currency,
		ocrTimeout:    *ocrTimeout,
		minConfidence: *minConfidence,
		converter:     *converter,
		fallback:      *fallback,
		geminiKey:     *geminiKey,
		geminiModel:   *geminiModel,
		ollamaURL:     *ollamaURL,
		ollamaModel:   *ollamaModel,
		openaiKey:     *openaiKey,
		openaiURL:     *openaiURL,
		openaiModel:   *openaiModel,
		authUser:      *authUser,
		authPass:      *authPass,
	}

	logger, err := newLogger(*logLevel, *logFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exiting")
		stop()
		os.Exit(1)
	}
}

func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parsing log level: %w", err)
	}
	switch format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	v := vocab.Default()
	if cfg.vocabPath != "" {
		var err error
		if v, err = vocab.Load(cfg.vocabPath); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.vocabPath).Msg("loaded vocabulary")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	session, err := ocr.NewSession(tesseract.New(), ocr.SessionConfig{Language: cfg.language}, logger.With().Str("component", "ocr").Logger())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ocrTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("OCR engine still busy at shutdown")
		}
	}()

	fallback, err := newFallback(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if fallback != nil {
		if c, ok := fallback.Recognizer.(io.Closer); ok {
			defer c.Close()
		}
	}

	pre := preprocess.DefaultConfig()
	pre.Converter = cfg.converter
	emailCfg := email.DefaultConfig()
	emailCfg.DefaultCurrency = strings.ToUpper(cfg.currency)
	emailCfg.MonthFirst = cfg.monthFirst

	extractor := pipeline.New(
		preprocess.New(pre, preprocess.ExecRunner{Logger: logger}, logger.With().Str("component", "preprocess").Logger()),
		ocr.NewOrchestrator(
			ocr.Engine{Name: "tesseract", Recognizer: session},
			fallback,
			ocr.Config{Timeout: cfg.ocrTimeout, MinConfidence: cfg.minConfidence},
			m, logger.With().Str("component", "ocr").Logger(),
		),
		validator.New(v, logger),
		parser.New(v, parser.Config{MonthFirst: cfg.monthFirst}, logger.With().Str("component", "parser").Logger()),
		email.New(v, emailCfg, logger.With().Str("component", "email").Logger()),
		m, logger,
	)

	if cfg.extract != "" {
		return extractOnce(ctx, extractor, cfg.extract, os.Stdout)
	}
	return serve(ctx, cfg, extractor, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)
}

func newFallback(ctx context.Context, cfg config, logger zerolog.Logger) (*ocr.Engine, error) {
	switch cfg.fallback {
	case "", "none":
		return nil, nil
	case "gemini":
		key := cfg.geminiKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		g, err := scanning.NewGemini(ctx, key, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		logger.Info().Str("model", cfg.geminiModel).Msg("using gemini OCR fallback")
		return &ocr.Engine{Name: "gemini", Recognizer: g}, nil
	case "ollama":
		logger.Info().Str("url", cfg.ollamaURL).Str("model", cfg.ollamaModel).Msg("using ollama OCR fallback")
		return &ocr.Engine{Name: "ollama", Recognizer: scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)}, nil
	case "openai":
		key := cfg.openaiKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		o, err := scanning.NewOpenAI(key, cfg.openaiURL, cfg.openaiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing openai: %w", err)
		}
		logger.Info().Str("model", cfg.openaiModel).Msg("using openai OCR fallback")
		return &ocr.Engine{Name: "openai", Recognizer: o}, nil
	}
	return nil, fmt.Errorf("unknown fallback %q (want none, gemini, ollama or openai)", cfg.fallback)
}

// extractOnce runs the pipeline on one file and prints the JSON result.
func extractOnce(ctx context.Context, extractor *pipeline.Extractor, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var result any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var payload email.Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decoding email payload: %w", err)
		}
		if result, err = extractor.ExtractEmail(ctx, payload); err != nil {
			return err
		}
	} else {
		extraction, err := extractor.ExtractImage(ctx, data)
		if err != nil {
			return err
		}
		result = extraction
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func serve(ctx context.Context, cfg config, extractor *pipeline.Extractor, metricsHandler http.Handler, logger zerolog.Logger) error {
	db, err := receipt.NewBoltDB(cfg.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := receipt.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return err
	}

	service := receipt.NewService(db, extractor, store, logger.With().Str("component", "service").Logger())
	server := receipt.NewServer(service, receipt.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	}, metricsHandler, logger.With().Str("component", "http").Logger())

	if cfg.authUser != "" || cfg.authPass != "" {
		logger.Info().Str("user", cfg.authUser).Msg("basic auth enabled")
	}
	return server.Start(ctx, fmt.Sprintf(":%d", cfg.port))
}
