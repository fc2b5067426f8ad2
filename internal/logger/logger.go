package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config controls the logger backend.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu          sync.RWMutex
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar       = newDefault()
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func newDefault() *zap.SugaredLogger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stdout),
		atomicLevel,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	lvl, _ := ParseLevel(cfg.Level)
	atomicLevel.SetLevel(lvl.zapLevel())

	zcfg := zap.Config{
		Level:            atomicLevel,
		Encoding:         "console",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if strings.EqualFold(cfg.Format, "json") {
		zcfg.Encoding = "json"
	}
	if cfg.Output != "" {
		zcfg.OutputPaths = []string{cfg.Output}
	}

	l, err := zcfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return err
	}

	mu.Lock()
	old := sugar
	sugar = l.Sugar()
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.Sync()
}

func SetLevel(level string) {
	if lvl, ok := ParseLevel(level); ok {
		atomicLevel.SetLevel(lvl.zapLevel())
	}
}

// Enabled reports whether messages at level are emitted.
func Enabled(level Level) bool {
	return atomicLevel.Enabled(level.zapLevel())
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	l := sugar
	mu.RUnlock()

	switch level {
	case LevelDebug:
		l.Debugf(format, v...)
	case LevelInfo:
		l.Infof(format, v...)
	case LevelWarn:
		l.Warnf(format, v...)
	case LevelError:
		l.Errorf(format, v...)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
