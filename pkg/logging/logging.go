// Package logging wraps zap the way the rest of this tool expects to call
// it: a package-level default logger, a settable level, and two rotation
// backends selectable by the config layer.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

var (
	level  = zap.NewAtomicLevelAt(InfoLevel)
	def    atomic.Value // *zap.SugaredLogger
	defMu  sync.Mutex
)

func init() {
	def.Store(New(os.Stderr, InfoLevel))
}

// New builds a logger writing JSON-free console output to w, gated at lvl.
func New(w io.Writer, lvl Level) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	level.SetLevel(lvl)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// NewProductionRotateByTime returns a writer that rotates path once per
// day, keeping seven days of history, via lestrrat-go/file-rotatelogs.
func NewProductionRotateByTime(path string) io.Writer {
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return os.Stderr
	}
	return w
}

// NewProductionRotateBySize returns a writer that rotates path once it
// exceeds maxSizeMB, keeping maxBackups old copies, via lumberjack. The
// config layer uses it for the application log when logger.rotate is "size".
func NewProductionRotateBySize(path string, maxSizeMB, maxBackups int) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     28,
		Compress:   true,
	}
}

// ReplaceDefault swaps the package-level logger used by the free functions
// below. Safe to call concurrently with logging calls.
func ReplaceDefault(l *zap.SugaredLogger) {
	defMu.Lock()
	defer defMu.Unlock()
	def.Store(l)
}

// SetLevel adjusts the level gate shared by every logger created with New,
// including the default one, unless it was already replaced by one built
// against a different atomic level.
func SetLevel(lvl Level) {
	level.SetLevel(lvl)
}

func current() *zap.SugaredLogger {
	return def.Load().(*zap.SugaredLogger)
}

func Sync() error { return current().Sync() }

func Debug(args ...interface{})                  { current().Debug(args...) }
func Debugf(format string, args ...interface{})  { current().Debugf(format, args...) }
func Info(args ...interface{})                   { current().Info(args...) }
func Infof(format string, args ...interface{})   { current().Infof(format, args...) }
func Warn(args ...interface{})                   { current().Warn(args...) }
func Warnf(format string, args ...interface{})   { current().Warnf(format, args...) }
func Error(args ...interface{})                  { current().Error(args...) }
func Errorf(format string, args ...interface{})  { current().Errorf(format, args...) }
