// Package log is a thin zerolog wrapper exposing a leveled, key/value logging
// API shared by every package of the node.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	log      zerolog.Logger
	logLevel = LogLevelError

	// logTestWriter and logTestWriterName allow tests and benchmarks to
	// plug in a custom writer through Init.
	logTestWriter     io.Writer
	logTestWriterName = "log_test_writer"

	panicOnInvalidChars = os.Getenv("LOG_PANIC_ON_INVALIDCHARS") == "true"
)

func init() {
	level := LogLevelError
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		level = s
	}
	Init(level, "stderr", nil)
}

// errorLevelWriter only forwards warnings and errors.
type errorLevelWriter struct {
	io.Writer
}

func (w *errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.Write(p)
}

// invalidCharChecker panics if a log line carries invalid UTF-8, which
// zerolog replaces by U+FFFD when encoding.
type invalidCharChecker struct {
	out zerolog.LevelWriter
}

func (w *invalidCharChecker) check(p []byte) {
	if bytes.Contains(p, []byte(`\ufffd`)) || bytes.ContainsRune(p, utf8.RuneError) {
		panic(fmt.Sprintf("log line with invalid chars: %q", p))
	}
}

func (w *invalidCharChecker) Write(p []byte) (int, error) {
	w.check(p)
	return w.out.Write(p)
}

func (w *invalidCharChecker) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.check(p)
	return w.out.WriteLevel(level, p)
}

// Init configures the package logger. Output can be "stdout", "stderr" or a
// file path. If errorOutput is not nil, warnings and errors are also copied
// there.
func Init(level, output string, errorOutput io.Writer) {
	var out io.Writer
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case logTestWriterName:
		out = logTestWriter
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot create log output: %v", err))
		}
		out = f
	}
	out = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339Nano,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return path.Base(s)
		},
	}
	if errorOutput != nil {
		out = zerolog.MultiLevelWriter(out, &errorLevelWriter{zerolog.ConsoleWriter{
			Out:        errorOutput,
			TimeFormat: time.RFC3339Nano,
			NoColor:    true,
		}})
	}
	if panicOnInvalidChars {
		lw, ok := out.(zerolog.LevelWriter)
		if !ok {
			lw = zerolog.LevelWriterAdapter{Writer: out}
		}
		out = &invalidCharChecker{out: lw}
	}

	var lvl zerolog.Level
	switch level {
	case LogLevelDebug:
		lvl = zerolog.DebugLevel
	case LogLevelInfo:
		lvl = zerolog.InfoLevel
	case LogLevelWarn:
		lvl = zerolog.WarnLevel
	case LogLevelError:
		lvl = zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("invalid log level: %q", level))
	}
	logLevel = level
	log = zerolog.New(out).Level(lvl).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
}

// Level returns the configured log level.
func Level() string {
	return logLevel
}

// Logger returns the underlying zerolog logger.
func Logger() *zerolog.Logger {
	return &log
}

func Debug(args ...any) {
	log.Debug().Msg(fmt.Sprint(args...))
}

func Info(args ...any) {
	log.Info().Msg(fmt.Sprint(args...))
}

func Warn(args ...any) {
	log.Warn().Msg(fmt.Sprint(args...))
}

func Error(args ...any) {
	log.Error().Msg(fmt.Sprint(args...))
}

func Fatal(args ...any) {
	log.Fatal().Msg(fmt.Sprint(args...))
}

func Debugf(template string, args ...any) {
	log.Debug().Msgf(template, args...)
}

func Infof(template string, args ...any) {
	log.Info().Msgf(template, args...)
}

func Warnf(template string, args ...any) {
	log.Warn().Msgf(template, args...)
}

func Errorf(template string, args ...any) {
	log.Error().Msgf(template, args...)
}

func Fatalf(template string, args ...any) {
	log.Fatal().Msgf(template, args...)
}

// Debugw logs a message with some additional context as key/value pairs.
func Debugw(msg string, keyvalues ...any) {
	log.Debug().Fields(keyvalues).Msg(msg)
}

// Infow logs a message with some additional context as key/value pairs.
func Infow(msg string, keyvalues ...any) {
	log.Info().Fields(keyvalues).Msg(msg)
}

// Warnw logs a message with some additional context as key/value pairs.
func Warnw(msg string, keyvalues ...any) {
	log.Warn().Fields(keyvalues).Msg(msg)
}

// Errorw logs an error with a message and optional key/value pairs.
func Errorw(err error, msg string, keyvalues ...any) {
	log.Error().Err(err).Fields(keyvalues).Msg(msg)
}
