package logger

import (
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/rlectl/internal/errors"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init initializes the global logger. Unknown levels fall back to warn.
func Init(level string, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		// The service manager prefixes its own timestamps
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// IsValidLevel reports whether level names a supported log level
func IsValidLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "warn", "error":
		return true
	default:
		return false
	}
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return log.Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return log.Error()
}

// ErrorWithCode logs an error message with its domain error code
func ErrorWithCode(err errors.Error) *zerolog.Event {
	return log.Error().
		Str("error_code", string(err.Code())).
		AnErr("error", err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// FatalWithCode logs a fatal message with its domain error code and exits
func FatalWithCode(err errors.Error) *zerolog.Event {
	return log.Fatal().
		Str("error_code", string(err.Code())).
		AnErr("error", err)
}
