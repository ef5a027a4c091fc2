package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields type is an alias for logrus.Fields
type Fields = logrus.Fields

// Config for the logger
type Config struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

var (
	mu   sync.RWMutex
	base *logrus.Logger
)

// Init builds the process-wide logger. Output always goes to stdout; when a
// file is configured it is also written there through a rotating writer.
func Init(config Config) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %v", err)
	}

	l := logrus.New()
	l.SetLevel(level)

	if config.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:          true,
			DisableLevelTruncation: true,
			PadLevelText:           true,
			TimestampFormat:        "2006-01-02 15:04:05",
		})
	}

	outputs := []io.Writer{os.Stdout}
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			fmt.Printf("Warning: Could not create log directory for %s: %v\n", config.File, err)
		} else {
			outputs = append(outputs, &lumberjack.Logger{
				Filename:   config.File,
				MaxSize:    config.MaxSize,
				MaxAge:     config.MaxAge,
				MaxBackups: config.MaxBackups,
				Compress:   config.Compress,
			})
		}
	}
	l.SetOutput(io.MultiWriter(outputs...))

	mu.Lock()
	base = l
	mu.Unlock()

	l.WithFields(Fields{"level": level.String(), "format": config.Format}).Debug("Logger initialized")
	return nil
}

// New returns an entry tagged with the given module name. Before Init is
// called it falls back to logrus' standard logger.
func New(module string) *logrus.Entry {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("module", module)
}

// Discard returns an entry that drops everything. Handy for tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
