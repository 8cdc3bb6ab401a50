package logger

import (
	"fmt"
	"os"
	"strings"

	"cloudwatch-exporter/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局日志实例，Init 之前为开发模式输出
var Log *zap.SugaredLogger

// level 跨重载共享，配置重载只调整级别不重建输出
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

func init() {
	cfg := zap.NewDevelopmentConfig()
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize default logger: %v\n", err)
		l = zap.NewNop()
	}
	Log = l.Sugar()
}

// Init 按 server.log 配置构建全局日志，cfg 为 nil 时保留默认日志
func Init(cfg *config.LogConfig) {
	if cfg == nil {
		return
	}

	var outputs []zapcore.WriteSyncer
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.File != nil && cfg.File.Path != "" {
			outputs = append(outputs, fileWriteSyncer(cfg.File))
		}
	case "both":
		outputs = append(outputs, zapcore.AddSync(os.Stdout))
		if cfg.File != nil && cfg.File.Path != "" {
			outputs = append(outputs, fileWriteSyncer(cfg.File))
		}
	}
	// 未配置、stdout/console，或 file 缺少路径时回退到标准输出
	if len(outputs) == 0 {
		outputs = append(outputs, zapcore.AddSync(os.Stdout))
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	SetLevel(cfg.Level)

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(outputs...), level)
	l := zap.New(core, zap.AddCaller())
	zap.RedirectStdLog(l)
	Log = l.Sugar()
}

// SetLevel 动态调整日志级别，非法值回退为 info
func SetLevel(lvl string) {
	if err := level.UnmarshalText([]byte(lvl)); err != nil || lvl == "" {
		level.SetLevel(zap.InfoLevel)
	}
}

// Level 当前日志级别
func Level() zapcore.Level {
	return level.Level()
}

func fileWriteSyncer(cfg *config.FileLogConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
