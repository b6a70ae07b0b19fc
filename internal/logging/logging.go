// Package logging builds the process logger: text lines with full
// timestamps, written to stdout and appended to the log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// New returns a logger at level writing to stdout and to logFile (created
// along with its directory when missing). The returned closer releases the
// file; an empty logFile logs to stdout only.
func New(level, logFile string) (*logrus.Logger, io.Closer, error) {
	return newWithStdout(os.Stdout, level, logFile)
}

func newWithStdout(stdout io.Writer, level, logFile string) (*logrus.Logger, io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		DisableColors:   true,
	})

	if logFile == "" {
		l.SetOutput(stdout)
		return l, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l.SetOutput(io.MultiWriter(stdout, f))
	return l, f, nil
}
