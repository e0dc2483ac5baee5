package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to loggers with logr.Logger.WithName.
const (
	CompGateway  = "slack-gateway"
	CompSession  = "session-keeper"
	CompTools    = "tool-bridge"
	CompExecutor = "dispatcher"
	CompLLM      = "agent-runtime"
	CompHTTP     = "http"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "console"
	Format string

	// File, when set, receives logs through a rotating writer instead of stderr
	File string

	// MaxSizeMB is the max size in MB before rotation (default: 100)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 3)
	MaxBackups int
}

// New builds a logr.Logger backed by zap. The returned function flushes
// buffered entries and closes the rotating file, if any.
func New(cfg Config) (logr.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if cfg.Level == "" {
		level, err = zapcore.InfoLevel, nil
	}
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return logr.Discard(), nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		}
		out, closer = rotating, rotating
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zap.NewAtomicLevelAt(level))
	zl := zap.New(core, zap.AddCaller())

	flush := func() error {
		// Sync on stderr fails on some platforms; only the file matters.
		_ = zl.Sync()
		if closer != nil {
			return closer.Close()
		}
		return nil
	}

	return zapr.NewLogger(zl), flush, nil
}
