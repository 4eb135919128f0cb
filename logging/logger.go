// Package logging provides the leveled, printf-style logger used by the trainer
// and the command line programs.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LoggingConfig selects the minimum level and the destination of log lines.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" prefixes timestamps, "plain" prints bare lines
	Output string `json:"output"` // "stdout", "stderr" or a file path
}

// LogLevel orders log severities
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelMap = map[string]LogLevel{
	"debug": DEBUG,
	"info":  INFO,
	"warn":  WARN,
	"error": ERROR,
	"fatal": FATAL,
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	if level, ok := levelMap[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level
	}
	return INFO
}

// Logger writes leveled lines to a single destination
type Logger struct {
	logger *log.Logger
	closer io.Closer
	mutex  sync.Mutex
	level  LogLevel
	exit   func(int)
}

// NewLogger creates a logger from config. A nil config logs info and above to stdout.
func NewLogger(config *LoggingConfig) (*Logger, error) {
	if config == nil {
		config = &LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		}
	}

	var output io.Writer
	var closer io.Closer
	switch config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	l := NewWriterLogger(output, ParseLevel(config.Level), config.Format)
	l.closer = closer
	return l, nil
}

// NewWriterLogger creates a logger on an arbitrary writer.
func NewWriterLogger(w io.Writer, level LogLevel, format string) *Logger {
	flags := log.LstdFlags
	if format == "plain" {
		flags = 0
	}
	return &Logger{
		logger: log.New(w, "", flags),
		level:  level,
		exit:   os.Exit,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(io.Discard, FATAL+1, "plain")
}

// Level returns the minimum level that is written
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) printf(level LogLevel, format string, args ...interface{}) {
	if l.level > level {
		return
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.logger.Printf("["+level.String()+"] "+format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.printf(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.printf(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.printf(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.printf(ERROR, format, args...)
}

// Fatal logs unconditionally and exits the process with status 1.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.mutex.Lock()
	l.logger.Printf("[FATAL] "+format, args...)
	l.mutex.Unlock()
	l.exit(1)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
