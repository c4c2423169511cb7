package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps a level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// chainTag is the colored prefix printed for a chain id.
type chainTag struct {
	label string
	color color.Attribute
}

var (
	tagsMu    sync.RWMutex
	chainTags = map[int]chainTag{
		1:     {"ETH", color.FgHiGreen},
		10:    {"OP", color.FgHiRed},
		56:    {"BSC", color.FgYellow},
		137:   {"POL", color.FgMagenta},
		42161: {"ARB", color.FgHiBlue},
		43114: {"AVA", color.FgRed},
		8453:  {"BASE", color.FgBlue},
		7000:  {"ZETA", color.FgGreen},
	}
)

// RegisterChainTag gives a chain id without a built-in tag a log prefix.
// Chains loaded from a registry overlay are tagged this way.
func RegisterChainTag(chainID int, label string) {
	tagsMu.Lock()
	defer tagsMu.Unlock()
	if _, ok := chainTags[chainID]; ok {
		return
	}
	chainTags[chainID] = chainTag{label: strings.ToUpper(label), color: color.FgCyan}
}

func lookupTag(chainID int) (chainTag, bool) {
	tagsMu.RLock()
	defer tagsMu.RUnlock()
	tag, ok := chainTags[chainID]
	return tag, ok
}

var levelTags = map[Level]string{
	DebugLevel:  "[DEBUG]  ",
	InfoLevel:   "[INFO]   ",
	NoticeLevel: "[NOTICE] ",
	ErrorLevel:  "[ERROR]  ",
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithChain(chainID int, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithChain(chainID int, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithChain(chainID int, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) InfoWithChain(_ int, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) ErrorWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) DebugWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) NoticeWithChain(_ int, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	out            *log.Logger
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		out:            log.Default(),
	}
}

// NewStdLoggerTo is NewStdLogger writing to a custom log.Logger.
func NewStdLoggerTo(out *log.Logger, level Level) *StdLogger {
	return &StdLogger{level: level, out: out}
}

// formatMessage prefixes the level tag and, for known chains, a padded chain tag.
func (l *StdLogger) formatMessage(level Level, chainID int, format string) string {
	tag, ok := lookupTag(chainID)
	if !ok {
		return levelTags[level] + format
	}
	prefix := fmt.Sprintf("%-7s", "["+tag.label+"]")
	if l.enableColoring {
		prefix = color.New(tag.color).Sprint(prefix)
	}
	return levelTags[level] + prefix + format
}

func (l *StdLogger) logf(level Level, chainID int, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf(l.formatMessage(level, chainID, format), args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, 0, format, args...)
}

func (l *StdLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.logf(InfoLevel, chainID, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, 0, format, args...)
}

func (l *StdLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.logf(ErrorLevel, chainID, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, 0, format, args...)
}

func (l *StdLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.logf(DebugLevel, chainID, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, 0, format, args...)
}

func (l *StdLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.logf(NoticeLevel, chainID, format, args...)
}
