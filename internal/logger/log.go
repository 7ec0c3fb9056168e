package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/abcdlsj/cr"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return cr.PCyan("DBG")
	case INFO:
		return cr.PGreen("INF")
	case WARN:
		return cr.PYellow("WAR")
	case ERROR:
		return cr.PRed("ERR")
	case FATAL:
		return cr.PRedBgWhite("FAT")
	}

	return cr.PLBlack("???")
}

// ParseLevel maps a level name to a Level, unknown names fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "dbg":
		return DEBUG
	case "info", "inf":
		return INFO
	case "warn", "warning", "war":
		return WARN
	case "error", "err":
		return ERROR
	case "fatal", "fat":
		return FATAL
	default:
		return INFO
	}
}

var (
	gLevel  atomic.Int32
	gOutput atomic.Pointer[log.Logger]
)

func init() {
	gLevel.Store(int32(INFO))
	gOutput.Store(log.New(os.Stderr, "", log.LstdFlags))

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		SetLevel(ParseLevel(val))
	}
}

func SetLevel(level Level) {
	gLevel.Store(int32(level))
}

func GetLevel() Level {
	return Level(gLevel.Load())
}

// SetOutput redirects every logger, tests use it to capture output.
func SetOutput(w io.Writer) {
	gOutput.Store(log.New(w, "", log.LstdFlags))
}

type Logger struct {
	prefixs []string
}

func New(prefixs ...string) *Logger {
	return &Logger{prefixs: prefixs}
}

// CloneAdd returns a child logger, the receiver is left untouched.
func (l *Logger) CloneAdd(prefix string) *Logger {
	prefixs := make([]string, 0, len(l.prefixs)+1)
	prefixs = append(prefixs, l.prefixs...)
	prefixs = append(prefixs, prefix)
	return &Logger{prefixs: prefixs}
}

func (l *Logger) Prefixs() []string {
	return l.prefixs
}

func header(prefixs []string, level Level) string {
	rainbow := []func(string) string{
		cr.PLGreen,
		cr.PLYellow,
		cr.PLBlue,
		cr.PLCyan,
		cr.PLMagenta,
	}

	if len(prefixs) == 0 {
		return fmt.Sprintf("%s ", level)
	}

	var sb strings.Builder
	sb.WriteString(level.String())
	sb.WriteString(" ")
	for i, text := range prefixs {
		sb.WriteString(rainbow[i%len(rainbow)]("[" + text + "]"))
		sb.WriteString(" ")
	}
	return sb.String()
}

func (l *Logger) output(level Level, msg string) {
	if level < GetLevel() && level != FATAL {
		return
	}

	out := gOutput.Load()
	out.Print(header(l.prefixs, level) + msg)
	if level == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) Debugf(format string, v ...any) {
	l.output(DEBUG, fmt.Sprintf(format, v...))
}

func (l *Logger) Infof(format string, v ...any) {
	l.output(INFO, fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...any) {
	l.output(WARN, fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...any) {
	l.output(ERROR, fmt.Sprintf(format, v...))
}

func (l *Logger) Fatalf(format string, v ...any) {
	l.output(FATAL, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(v ...any) {
	l.output(DEBUG, fmt.Sprintln(v...))
}

func (l *Logger) Info(v ...any) {
	l.output(INFO, fmt.Sprintln(v...))
}

func (l *Logger) Warn(v ...any) {
	l.output(WARN, fmt.Sprintln(v...))
}

func (l *Logger) Error(v ...any) {
	l.output(ERROR, fmt.Sprintln(v...))
}

func (l *Logger) Fatal(v ...any) {
	l.output(FATAL, fmt.Sprintln(v...))
}

var defatLogger = New()

func Debugf(format string, v ...any) {
	defatLogger.Debugf(format, v...)
}

func Infof(format string, v ...any) {
	defatLogger.Infof(format, v...)
}

func Warnf(format string, v ...any) {
	defatLogger.Warnf(format, v...)
}

func Errorf(format string, v ...any) {
	defatLogger.Errorf(format, v...)
}

func Fatalf(format string, v ...any) {
	defatLogger.Fatalf(format, v...)
}

func Debug(v ...any) {
	defatLogger.Debug(v...)
}

func Info(v ...any) {
	defatLogger.Info(v...)
}

func Warn(v ...any) {
	defatLogger.Warn(v...)
}

func Error(v ...any) {
	defatLogger.Error(v...)
}

func Fatal(v ...any) {
	defatLogger.Fatal(v...)
}
