// Package logx wires the receiver's structured logger: a two-stream
// (stdout + rotating file) charmbracelet/log logger with a TRACE level
// below DEBUG, level parsing, and the media redaction rules required
// before any frame body reaches a log line.
//
// The bootstrap/shutdown message style follows this repo's usual plain
// key/value logging, and the logging.level semantics follow
// original_source's config; the two-stream + rotation shape is built on
// natefinch/lumberjack (see DESIGN.md).
package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TraceLevel sits below charmbracelet/log's DebugLevel, matching the
// original logger's TRACE verb used for parser-miss diagnostics.
const TraceLevel log.Level = log.DebugLevel - 4

// Logger wraps *log.Logger with the TRACE level and receiver/peer tagging
// helpers the connection handler and driver use.
type Logger struct {
	*log.Logger
}

// New builds a Logger writing to stdout and a rotating file under logDir,
// starting at the given level (see ParseLevel for accepted spellings).
func New(logDir, level string) *Logger {
	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "servers.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 10,
		Compress:   false,
	}
	w := io.MultiWriter(os.Stdout, fileWriter)
	base := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	base.SetLevel(ParseLevel(level))
	return &Logger{Logger: base}
}

// ParseLevel maps the config/env/command level spellings onto
// charmbracelet/log levels, defaulting to INFO on an unrecognized value.
func ParseLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARNING", "WARN":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "CRITICAL", "FATAL":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Trace logs below DEBUG, used for parser-miss diagnostics that should
// never surface in normal operation.
func (l *Logger) Trace(msg interface{}, keyvals ...interface{}) {
	l.Log(TraceLevel, msg, keyvals...)
}

// WithReceiver tags subsequent log lines with the owning receiver name.
func (l *Logger) WithReceiver(name string) *Logger {
	return &Logger{Logger: l.Logger.With("protocol", name)}
}

// WithPeer tags subsequent log lines with the connected panel's address.
func (l *Logger) WithPeer(addr string) *Logger {
	return &Logger{Logger: l.Logger.With("client_ip", addr)}
}
