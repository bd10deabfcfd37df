package logger

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FilePrefix names the daily log files: <dir>/llama3-server-YYYY-MM-DD.log.
const FilePrefix = "llama3-server"

// FileName returns the log file path for the given day.
func FileName(logDir string, day time.Time) string {
	return filepath.Join(logDir, FilePrefix+"-"+day.Format("2006-01-02")+".log")
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(logLevel string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Init initializes the logger with JSON file output (rotated) and console output
func Init(logDir, logLevel string) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   FileName(logDir, time.Now()),
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	})

	return New(fileWriter, zapcore.AddSync(os.Stdout), ParseLevel(logLevel)), nil
}

// New builds a logger that tees JSON lines to file and human-readable lines
// to console.
func New(file, console zapcore.WriteSyncer, level zapcore.Level) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), file, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), console, level),
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}
