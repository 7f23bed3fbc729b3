// Package logger builds the structured, leveled logger the pipeline's
// components are constructed with (spec §6 EXPANSION), and the Discord
// alerting sink layered on top of it in production/test NODE_ENV (spec
// §7). Grounded on the teacher's logger/logger.go (hclog.New around an
// optional file sink); the rotating-file path is newly wired onto
// lumberjack.v2, a teacher go.mod dependency the original logger never
// used.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	LogLevel      hclog.Level
	JSONLogFormat bool

	// AppendFile, when RotatingLogsEnabled is false, reuses LogFilePath
	// verbatim instead of suffixing it with a start-time timestamp.
	AppendFile bool

	// RotatingLogsEnabled routes output through a lumberjack rotating
	// writer instead of a single plain file. Requires LogFilePath.
	RotatingLogsEnabled bool

	LogFilePath string
	Name        string
}

const (
	rotatingMaxSizeMB  = 100
	rotatingMaxBackups = 7
	rotatingMaxAgeDays = 30
)

// NewLogger builds an hclog.Logger per config. With LogFilePath empty and
// rotation disabled, it logs to stderr.
func NewLogger(config LoggerConfig) (hclog.Logger, error) {
	opts, err := buildOptions(config)
	if err != nil {
		return nil, err
	}

	return hclog.New(opts), nil
}

// NewLoggerWithSinks builds a logger exactly like NewLogger, but as an
// hclog.InterceptLogger with every sink registered against it. Used for
// the Discord alerting sink (spec §7 EXPANSION), which needs to observe
// every emitted log line regardless of the base logger's own output.
func NewLoggerWithSinks(config LoggerConfig, sinks ...hclog.SinkAdapter) (hclog.Logger, error) {
	opts, err := buildOptions(config)
	if err != nil {
		return nil, err
	}

	intercept := hclog.NewInterceptLogger(opts)

	for _, sink := range sinks {
		intercept.RegisterSink(sink)
	}

	return intercept, nil
}

func buildOptions(config LoggerConfig) (*hclog.LoggerOptions, error) {
	var output io.Writer

	if config.RotatingLogsEnabled {
		trimmed := strings.TrimSpace(config.LogFilePath)
		if trimmed == "" {
			return nil, fmt.Errorf("rotating logs require a non-empty LogFilePath")
		}

		if dir := filepath.Dir(trimmed); dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("could not create log directory %s: %w", dir, err)
			}
		}

		output = &lumberjack.Logger{
			Filename:   trimmed,
			MaxSize:    rotatingMaxSizeMB,
			MaxBackups: rotatingMaxBackups,
			MaxAge:     rotatingMaxAgeDays,
			Compress:   true,
		}
	} else {
		f, err := getLogFileWriter(config)
		if err != nil {
			return nil, err
		}

		if f != nil {
			output = f
		}
	}

	return &hclog.LoggerOptions{
		Name:       config.Name,
		Level:      config.LogLevel,
		Output:     output,
		JSONFormat: config.JSONLogFormat,
	}, nil
}

// getLogFileWriter opens the plain (non-rotating) log file named by
// config.LogFilePath, or returns (nil, nil) when LogFilePath is blank.
// With AppendFile false, a UTC start-time timestamp is spliced in before
// the file's extension (or appended, if it has none).
func getLogFileWriter(config LoggerConfig) (*os.File, error) {
	trimmed := strings.TrimSpace(config.LogFilePath)
	if trimmed == "" {
		return nil, nil
	}

	if dir := filepath.Dir(trimmed); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("could not create log directory %s: %w", dir, err)
		}
	}

	fullPath := trimmed

	if !config.AppendFile {
		ext := filepath.Ext(trimmed)
		base := strings.TrimSuffix(trimmed, ext)
		fullPath = base + "_" + timestampSuffix() + ext
	}

	f, err := os.OpenFile(fullPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not create or open log file: %w", err)
	}

	return f, nil
}

func timestampSuffix() string {
	return strings.NewReplacer(":", "_", "-", "_").Replace(time.Now().UTC().Format(time.RFC3339))
}
