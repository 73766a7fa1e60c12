package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "[01-02|15:04:05.000]"

var sugaredLogger *zap.SugaredLogger

func init() {
	sugaredLogger = createSugared(DefaultConfig())
}

type Config struct {
	Level       string `toml:"level"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	Console     bool   `toml:"console"`
}

func DefaultConfig() Config {
	return Config{
		Level:   "INFO",
		Console: true,
	}
}

// Set configures the package logger according to Config.
func Set(cfg Config) {
	createSugared(cfg)
}

func createSugared(cfg Config) *zap.SugaredLogger {
	atom := zap.NewAtomicLevel()

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, consoleCore(atom))
	}
	if len(cfg.File) > 0 {
		cores = append(cores, fileCore(cfg, atom))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	sugaredLogger = logger.Sugar()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		sugaredLogger.Errorf("unknown log level %q, keeping INFO", cfg.Level)
		level = zapcore.InfoLevel
	}
	atom.SetLevel(level)

	return sugaredLogger
}

type noSyncWriter struct {
	io.Writer
}

func (noSyncWriter) Sync() error { return nil }

func consoleCore(atom zap.AtomicLevel) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)

	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		noSyncWriter{os.Stdout},
		atom,
	)
}

func fileCore(cfg Config, atom zap.AtomicLevel) zapcore.Core {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename: cfg.File,
		MaxSize:  cfg.MaxFileSize,
	})

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)

	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), w, atom)
}

func sync() {
	// file sink only; the console writer is a no-op syncer
	_ = sugaredLogger.Sync()
}

// Debugf formats the message and logs it at DEBUG level.
func Debugf(msg string, args ...interface{}) {
	sugaredLogger.Debugf(msg, args...)
}

// Infof formats the message and logs it at INFO level.
func Infof(msg string, args ...interface{}) {
	sugaredLogger.Infof(msg, args...)
}

// Warnf formats the message and logs it at WARN level.
func Warnf(msg string, args ...interface{}) {
	sugaredLogger.Warnf(msg, args...)
}

// Errorf formats the message and logs it at ERROR level.
func Errorf(msg string, args ...interface{}) {
	sugaredLogger.Errorf(msg, args...)
}

// Fatalf formats the message, logs it at FATAL level and calls os.Exit.
func Fatalf(msg string, args ...interface{}) {
	sync()
	sugaredLogger.Fatalf(msg, args...)
}

// Debug logs arguments at DEBUG level.
func Debug(args ...interface{}) {
	sugaredLogger.Debug(args...)
}

// Info logs arguments at INFO level.
func Info(args ...interface{}) {
	sugaredLogger.Info(args...)
}

// Warn logs arguments at WARN level.
func Warn(args ...interface{}) {
	sugaredLogger.Warn(args...)
}

// Error logs arguments at ERROR level.
func Error(args ...interface{}) {
	sugaredLogger.Error(args...)
}

// Fatal logs arguments at FATAL level and calls os.Exit.
func Fatal(args ...interface{}) {
	sync()
	sugaredLogger.Fatal(args...)
}
