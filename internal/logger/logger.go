// Package logger holds the process-wide zap logger used by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Standard field names for structured log lines.
const (
	FieldVendor   = "vendor"
	FieldRunID    = "run_id"
	FieldStart    = "start"
	FieldEnd      = "end"
	FieldRange    = "range"
	FieldStrategy = "strategy"
	FieldCount    = "count"
	FieldCalls    = "calls"
	FieldSplits   = "splits"
	FieldError    = "error"
)

var (
	// Logger is the global logger. It is a no-op until Initialize is called.
	Logger *zap.SugaredLogger
	// JSONOutput reports whether Initialize selected the JSON encoder.
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Options controls logger construction.
type Options struct {
	JSON  bool
	Level string // debug, info, warn, error

	// File, when set, receives log output through a rotating writer
	// instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Initialize replaces the global logger according to opts.
func Initialize(opts Options) error {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(opts.Level, "info")))
	if err != nil {
		return err
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(writerFor(opts)), level)
	Logger = zap.New(core).Sugar()
	JSONOutput = opts.JSON
	return nil
}

func writerFor(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    defaultInt(opts.MaxSizeMB, 50),
		MaxBackups: defaultInt(opts.MaxBackups, 3),
		Compress:   true,
	}
}

// ComponentLogger returns a named logger for a specific component.
//
//	type Engine struct {
//	    log *zap.SugaredLogger
//	}
//
//	e := &Engine{log: logger.ComponentLogger("engine")}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
