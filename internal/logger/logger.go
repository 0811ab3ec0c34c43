package logger

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	logrus "github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"

	"custody_tracker/internal/config"
)

// Setup initializes Logrus on a rotating file and returns the writer so the
// access log can share it.
func Setup(cfg config.LogConfig) io.Writer {
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   true,
	}

	var out io.Writer = rotator
	if cfg.Stdout {
		out = io.MultiWriter(rotator, os.Stdout)
	}

	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logrus.SetLevel(ParseLevel(cfg.Level))
	return out
}

// ParseLevel falls back to info for empty or unknown levels.
func ParseLevel(value string) logrus.Level {
	lvl, err := logrus.ParseLevel(value)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// GormLogger routes GORM's SQL and slow-query logs through Logrus.
func GormLogger() gormlogger.Interface {
	level := gormlogger.Warn
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		level = gormlogger.Info
	}
	return gormlogger.New(log.New(logrus.StandardLogger().WriterLevel(logrus.DebugLevel), "", 0), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// AccessLogger is the zerolog logger used for HTTP access lines.
func AccessLogger(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).With().Timestamp().Str("component", "http").Logger()
}
