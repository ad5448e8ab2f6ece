package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger is a leveled logger. The zero value and a nil *Logger discard.
type Logger struct {
	mu     *sync.Mutex
	file   *os.File
	logger *log.Logger
	scope  string
	debug  bool
}

// NewLogger creates a logger appending to the file at filePath.
func NewLogger(filePath string) (*Logger, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &Logger{
		mu:     &sync.Mutex{},
		file:   file,
		logger: log.New(file, "", log.LstdFlags),
	}, nil
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{mu: &sync.Mutex{}, logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger { return nil }

// With returns a logger sharing the same output with an added component scope.
func (l *Logger) With(scope string) *Logger {
	if l == nil || l.logger == nil {
		return l
	}
	cp := *l
	if cp.scope != "" {
		cp.scope = cp.scope + "." + scope
	} else {
		cp.scope = scope
	}
	return &cp
}

// SetDebug toggles Debug output.
func (l *Logger) SetDebug(on bool) {
	if l != nil {
		l.debug = on
	}
}

func (l *Logger) output(level, msg string) {
	if l == nil || l.logger == nil {
		return
	}
	if l.scope != "" {
		msg = "[" + l.scope + "] " + msg
	}
	l.mu.Lock()
	l.logger.Println(level + ": " + msg)
	l.mu.Unlock()
}

func (l *Logger) Debug(msg string) {
	if l != nil && l.debug {
		l.output("DEBUG", msg)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string) { l.output("INFO", msg) }

// Warn logs a warning message
func (l *Logger) Warn(msg string) { l.output("WARN", msg) }

// Error logs an error message
func (l *Logger) Error(msg string) { l.output("ERROR", msg) }

func (l *Logger) Debugf(format string, args ...any) {
	if l != nil && l.debug {
		l.output("DEBUG", fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }

// Close closes the log file
func (l *Logger) Close() {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.file.Close()
}

// RotateDaily reopens the log file once a day until stop is closed.
func (l *Logger) RotateDaily(stop <-chan struct{}) {
	if l == nil || l.file == nil {
		return
	}
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		l.mu.Lock()
		name := l.file.Name()
		_ = l.file.Close()
		file, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			l.mu.Unlock()
			fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
			return
		}
		l.file = file
		l.logger.SetOutput(file)
		l.mu.Unlock()
	}
}
