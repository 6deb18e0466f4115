// Package logging builds the CLI's zap logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel overrides the default level when --verbose is not given.
const EnvLevel = "TAINTLINE_LOG_LEVEL"

// Level picks the log level: debug when verbose, else $TAINTLINE_LOG_LEVEL,
// else warn.
func Level(verbose bool) (zapcore.Level, error) {
	if verbose {
		return zapcore.DebugLevel, nil
	}
	v := strings.TrimSpace(os.Getenv(EnvLevel))
	if v == "" {
		return zapcore.WarnLevel, nil
	}
	lvl, err := zapcore.ParseLevel(v)
	if err != nil {
		return zapcore.WarnLevel, fmt.Errorf("%s: %w", EnvLevel, err)
	}
	return lvl, nil
}

// New returns a console logger on stderr.
func New(verbose bool) (*zap.Logger, error) {
	lvl, err := Level(verbose)
	if err != nil {
		return nil, err
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Development:       verbose,
		DisableStacktrace: !verbose,
		Encoding:          "console",
		EncoderConfig:     enc,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	return cfg.Build()
}
