package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

const stamp = "2006-01-02 15:04:05"

// Logger writes leveled lines to a log file and, optionally, echoes
// info-and-above to stdout.
type Logger struct {
	file   *log.Logger
	stdout *log.Logger
	level  Level
}

func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		file:  log.New(f, "", 0),
		level: level,
	}
	if includeStdout {
		l.stdout = log.New(os.Stdout, "", 0)
	}
	return l, nil
}

// Discard returns a logger that swallows everything. Used by tests.
func Discard() *Logger {
	return &Logger{
		file:  log.New(io.Discard, "", 0),
		level: LevelFatal,
	}
}

func (l *Logger) log(lvl Level, prefix string, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}

	line := fmt.Sprintf("%s [%s] %s", time.Now().Format(stamp), prefix, fmt.Sprintf(format, v...))

	l.file.Println(line)

	// Debug stays file-only even when stdout echo is on
	if l.stdout != nil && lvl >= LevelInfo {
		l.stdout.Println(line)
	}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); os.Exit(1) }

// Write lets the logger act as an io.Writer for libraries that expect
// one (echo's request logger, the stdlib log package).
func (l *Logger) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
