package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with per-component levels.
type Logger struct {
	*zap.Logger
	levels map[string]zapcore.Level
}

// Config defines logger configuration.
type Config struct {
	// Level applies to every component without an override.
	Level       string
	Development bool
	// Components overrides levels per component: "fetch=debug,cookies=warn".
	Components string
	// Output defaults to stderr.
	Output zapcore.WriteSyncer
}

// New creates a logger. Levels that do not parse are an error.
func New(cfg Config) (*Logger, error) {
	base := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if base, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, err
		}
	}
	levels, err := parseComponents(cfg.Components)
	if err != nil {
		return nil, err
	}

	// The core admits the most verbose level anyone asked for; levelCore
	// narrows it per component.
	floor := base
	for _, l := range levels {
		floor = min(floor, l)
	}

	out := cfg.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}
	core := zapcore.NewCore(encoder(cfg.Development), out, floor)

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return &Logger{
		Logger: zap.New(levelCore{Core: core, level: base}, opts...),
		levels: levels,
	}, nil
}

// Nop returns a logger that discards everything. Tests use it.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Component returns a child logger named after the component, at the
// component's configured level.
func (l *Logger) Component(name string) *Logger {
	child := l.Logger.Named(name)
	if level, ok := l.levels[name]; ok {
		child = child.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			if lc, ok := c.(levelCore); ok {
				return levelCore{Core: lc.Core, level: level}
			}
			return c
		}))
	}
	return &Logger{Logger: child, levels: l.levels}
}

// Resty adapts the logger to resty's Errorf/Warnf/Debugf interface.
func (l *Logger) Resty() *zap.SugaredLogger {
	return l.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Named("resty")
}

func parseComponents(spec string) (map[string]zapcore.Level, error) {
	levels := make(map[string]zapcore.Level)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("component level %q: want name=level", part)
		}
		level, err := zapcore.ParseLevel(value)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", name, err)
		}
		levels[strings.TrimSpace(name)] = level
	}
	return levels, nil
}

func encoder(development bool) zapcore.Encoder {
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// levelCore filters entries below level before they reach the wrapped core.
type levelCore struct {
	zapcore.Core
	level zapcore.Level
}

func (c levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}
