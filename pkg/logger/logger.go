package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	charmLog "github.com/charmbracelet/log"

	"carebot/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envLogFormat    = "CAREBOT_LOG_FORMAT"
	envLogLevel     = "CAREBOT_LOG_LEVEL"
	envLogAddSource = "CAREBOT_LOG_ADD_SOURCE"

	// PreviewLimit bounds how many runes of user text end up in a log line.
	PreviewLimit = 120
)

// options is the logging setup after environment overrides are merged into
// the file config.
type options struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to writer, for front ends that own
// the terminal.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	return newWithWriter(cfg, writer)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	if opts.format == formatJSON {
		return slog.New(newEntryHandler(writer, opts)), nil
	}

	pretty := charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLevel(opts.level),
		ReportTimestamp: true,
		ReportCaller:    opts.addSource,
		Formatter:       charmLog.TextFormatter,
	})
	return slog.New(pretty), nil
}

func resolveOptions(cfg config.LoggingConfig) (options, error) {
	opts := options{addSource: cfg.AddSource}

	opts.format = strings.ToLower(override(envLogFormat, cfg.Format, formatText))
	if opts.format != formatText && opts.format != formatJSON {
		return options{}, fmt.Errorf("unsupported log format %q", opts.format)
	}

	levelText := strings.ToLower(override(envLogLevel, cfg.Level, "info"))
	if levelText == "warning" {
		levelText = "warn"
	}
	if err := opts.level.UnmarshalText([]byte(levelText)); err != nil {
		return options{}, fmt.Errorf("unsupported log level %q", levelText)
	}

	if raw := strings.TrimSpace(os.Getenv(envLogAddSource)); raw != "" {
		addSource, err := strconv.ParseBool(raw)
		if err != nil {
			return options{}, fmt.Errorf("%s: %w", envLogAddSource, err)
		}
		opts.addSource = addSource
	}

	return opts, nil
}

// override returns the env value when set, then the configured value, then
// fallback.
func override(env string, configured string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		return value
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}
	return fallback
}

// Preview returns text flattened to one line and cut to PreviewLimit runes,
// so message bodies never reach the logs in full.
func Preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(flat) <= PreviewLimit {
		return flat
	}

	runes := []rune(flat)
	return string(runes[:PreviewLimit]) + "..."
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}
