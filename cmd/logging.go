package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/warpdl/warpload/pkg/logger"
)

// fileLogger is a StandardLogger that owns its file.
type fileLogger struct {
	*logger.StandardLogger
	f *os.File
}

func (l *fileLogger) Close() error {
	return l.f.Close()
}

// newRunLogger logs to console (nil disables it) and, when path is set,
// appends to that file with debug output enabled.
func newRunLogger(console io.Writer, path string) (logger.Logger, error) {
	var loggers []logger.Logger
	if console != nil {
		loggers = append(loggers, logger.NewStandardLoggerFromEnv(log.New(console, "", log.Ltime)))
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		sl := logger.NewStandardLogger(log.New(f, "", log.LstdFlags))
		sl.SetDebug(true)
		loggers = append(loggers, &fileLogger{StandardLogger: sl, f: f})
	}
	switch len(loggers) {
	case 0:
		return logger.NewNopLogger(), nil
	case 1:
		return loggers[0], nil
	}
	return logger.NewMultiLogger(loggers...), nil
}
