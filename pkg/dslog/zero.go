package dslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Zero = NewZeroLogger("", "info", false)

var logFile *os.File

// NewZeroLogger builds the process logger. Output is JSON unless pretty is set,
// in which case a console writer is used.
func NewZeroLogger(filepath string, level string, pretty bool) *zerolog.Logger {
	file, writer, err := newWriter(filepath)
	if err != nil {
		writer = os.Stdout
	}
	if file != nil {
		logFile = file
	}
	if pretty {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(level))

	return &logger
}

func UpdateZeroLogLevel(logLevel string) error {
	level := parseLevel(logLevel)
	zeroLogger := Zero.With().Logger().Level(level)
	Zero = &zeroLogger
	return nil
}

// ReloadLogger reopens the log target. An empty filepath keeps stdout.
func ReloadLogger(filepath string, level string, pretty bool) {
	oldFile := logFile
	logFile = nil
	Zero = NewZeroLogger(filepath, level, pretty)
	if oldFile != nil && oldFile != logFile {
		_ = oldFile.Close()
	}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// newWriter creates a new file writer based on the provided filepath.
// If the filepath is empty, it returns os.Stdout as the writer.
// Otherwise, it opens the file in append mode, creating it if needed.
func newWriter(filepath string) (*os.File, io.Writer, error) {
	if filepath == "" {
		return nil, os.Stdout, nil
	}
	f, err := os.OpenFile(filepath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
