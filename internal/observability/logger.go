package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bjaus/fanout"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "FANOUT_LOG_LEVEL"

// InitLogger builds the process logger, installs it as the global zerolog
// logger and returns it. Output goes to a console writer on out.
func InitLogger(app string, out io.Writer, level string) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	if envLvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		lvl = envLvl
	}

	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level. The second result is
// false for an empty or unknown name.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// WithFrame returns a context carrying a child of logger tagged with a new
// frame id, and the id itself.
func WithFrame(ctx context.Context, logger zerolog.Logger) (context.Context, string) {
	id := uuid.NewString()
	l := logger.With().Str("frame", id).Logger()
	return l.WithContext(ctx), id
}

// ParseLogging returns an invoker option tagging the context logger with the
// parser and message type of every parsed message.
func ParseLogging() fanout.Option {
	return fanout.WithOnParse(func(ctx context.Context, parser string, msg fanout.Message) context.Context {
		l := zerolog.Ctx(ctx).With().Str("parser", parser).Str("message", MessageName(msg)).Logger()
		return l.WithContext(ctx)
	})
}
