// Package logger is the process-wide leveled logger used by every DittoFTP
// package. Lines are either plain text or one JSON object per line.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts the level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// level tags used on a terminal
var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

type state struct {
	mu      sync.RWMutex
	level   Level
	json    bool
	colored bool
	out     *stdlog.Logger
	file    *os.File
}

var std = &state{
	level:   LevelInfo,
	out:     stdlog.New(os.Stdout, "", 0),
	colored: isTerminal(os.Stdout),
}

func isTerminal(f *os.File) bool {
	return !color.NoColor && term.IsTerminal(int(f.Fd()))
}

// SetLevel ignores unknown names and keeps the current level.
func SetLevel(level string) {
	l, err := ParseLevel(level)
	if err != nil {
		return
	}
	std.mu.Lock()
	std.level = l
	std.mu.Unlock()
}

// SetFormat selects "text" (default) or "json".
func SetFormat(format string) {
	std.mu.Lock()
	std.json = strings.EqualFold(format, "json")
	std.mu.Unlock()
}

// SetOutput sends log lines to "stdout", "stderr" or a file opened for
// append. A previously opened log file is closed.
func SetOutput(output string) error {
	var (
		w    io.Writer
		file *os.File
		tty  bool
	)

	switch strings.ToLower(output) {
	case "", "stdout":
		w, tty = os.Stdout, isTerminal(os.Stdout)
	case "stderr":
		w, tty = os.Stderr, isTerminal(os.Stderr)
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", output, err)
		}
		w, file = f, f
	}

	std.mu.Lock()
	defer std.mu.Unlock()

	if std.file != nil {
		_ = std.file.Close()
	}
	std.file = file
	std.colored = tty
	std.out.SetOutput(w)
	return nil
}

// IsDebug lets callers skip building expensive debug arguments.
func IsDebug() bool {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.level == LevelDebug
}

func (s *state) write(level Level, format string, v ...any) {
	s.mu.RLock()
	if level < s.level {
		s.mu.RUnlock()
		return
	}
	asJSON, colored := s.json, s.colored
	s.mu.RUnlock()

	now := time.Now()
	msg := fmt.Sprintf(format, v...)

	if asJSON {
		line, err := json.Marshal(struct {
			Time  string `json:"time"`
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}{now.Format(time.RFC3339Nano), level.String(), msg})
		if err == nil {
			s.out.Println(string(line))
			return
		}
	}

	tag := "[" + level.String() + "]"
	if colored {
		tag = levelColors[level].Sprint(tag)
	}
	s.out.Printf("[%s] %s %s\n", now.Format("2006-01-02 15:04:05"), tag, msg)
}

func Debug(format string, v ...any) { std.write(LevelDebug, format, v...) }

func Info(format string, v ...any) { std.write(LevelInfo, format, v...) }

func Warn(format string, v ...any) { std.write(LevelWarn, format, v...) }

func Error(format string, v ...any) { std.write(LevelError, format, v...) }
