package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mcpconsole-go/internal/config"
)

// Log levels accepted in configuration
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ParseLevel maps a configured level name to a zap level. Trace is treated as debug.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelInfo:
		return zap.InfoLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// GetLogDir returns the directory log files are written to
func GetLogDir(logConfig *config.LogConfig, dataDir string) string {
	if logConfig != nil && logConfig.LogDir != "" {
		return logConfig.LogDir
	}
	if dataDir == "" {
		dataDir = config.DefaultConfig().DataDir
	}
	return filepath.Join(dataDir, "logs")
}

// SetupLogger builds the process logger: a console core and a rotating file
// core teed together, either of which may be disabled.
func SetupLogger(logConfig *config.LogConfig, dataDir string) (*zap.Logger, error) {
	if logConfig == nil {
		logConfig = config.DefaultConfig().Logging
	}
	level := ParseLevel(logConfig.Level)

	var cores []zapcore.Core
	if logConfig.EnableConsole {
		cores = append(cores, createConsoleCore(logConfig, level))
	}
	if logConfig.EnableFile {
		fileConfig := *logConfig
		fileConfig.LogDir = GetLogDir(logConfig, dataDir)
		fileCore, err := createFileCore(&fileConfig, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, fileCore)
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func encoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return encCfg
}

func createConsoleCore(logConfig *config.LogConfig, level zapcore.Level) zapcore.Core {
	encCfg := encoderConfig()
	var encoder zapcore.Encoder
	if logConfig.JSONFormat {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
}

// createFileCore returns a core writing to a lumberjack-rotated file
func createFileCore(logConfig *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logDir := logConfig.LogDir
	if logDir == "" {
		logDir = GetLogDir(nil, "")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	filename := logConfig.Filename
	if filename == "" {
		filename = "mcpconsole.log"
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, filename),
		MaxSize:    logConfig.MaxSize,
		MaxBackups: logConfig.MaxBackups,
		MaxAge:     logConfig.MaxAge,
		Compress:   logConfig.Compress,
	}

	var encoder zapcore.Encoder
	if logConfig.JSONFormat {
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(writer), level), nil
}
