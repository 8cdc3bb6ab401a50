package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ContextLogger 为一组日志附加固定的前缀与上下文字段
// 如 namespace、metric、resource_type，字段按添加顺序输出
type ContextLogger struct {
	fields []interface{}
	prefix string
}

// NewContextLogger 用法: logger.NewContextLogger("CloudWatch", "namespace", ns, "metric", name)
func NewContextLogger(prefix string, kv ...interface{}) *ContextLogger {
	return &ContextLogger{
		prefix: prefix,
		fields: kv,
	}
}

// With 追加上下文字段，返回新实例，原实例不变
func (l *ContextLogger) With(kv ...interface{}) *ContextLogger {
	fields := make([]interface{}, 0, len(l.fields)+len(kv))
	fields = append(fields, l.fields...)
	fields = append(fields, kv...)
	return &ContextLogger{prefix: l.prefix, fields: fields}
}

func (l *ContextLogger) format(content string) string {
	var sb strings.Builder
	if l.prefix != "" {
		sb.WriteString(l.prefix)
		sb.WriteByte(' ')
	}
	sb.WriteString(content)
	for i := 0; i+1 < len(l.fields); i += 2 {
		fmt.Fprintf(&sb, " %s=%v", l.fields[i], l.fields[i+1])
	}
	return sb.String()
}

func (l *ContextLogger) log(lvl zapcore.Level, msg string) {
	if Log == nil {
		return
	}
	switch lvl {
	case zapcore.DebugLevel:
		Log.Debug(l.format(msg))
	case zapcore.InfoLevel:
		Log.Info(l.format(msg))
	case zapcore.WarnLevel:
		Log.Warn(l.format(msg))
	default:
		Log.Error(l.format(msg))
	}
}

// logf 在级别未启用时跳过格式化，逐序列日志量较大
func (l *ContextLogger) logf(lvl zapcore.Level, format string, args ...interface{}) {
	if Log == nil || !Log.Desugar().Core().Enabled(lvl) {
		return
	}
	l.log(lvl, fmt.Sprintf(format, args...))
}

func (l *ContextLogger) Debug(msg string) { l.log(zapcore.DebugLevel, msg) }

func (l *ContextLogger) Debugf(format string, args ...interface{}) {
	l.logf(zapcore.DebugLevel, format, args...)
}

func (l *ContextLogger) Info(msg string) { l.log(zapcore.InfoLevel, msg) }

func (l *ContextLogger) Infof(format string, args ...interface{}) {
	l.logf(zapcore.InfoLevel, format, args...)
}

func (l *ContextLogger) Warn(msg string) { l.log(zapcore.WarnLevel, msg) }

func (l *ContextLogger) Warnf(format string, args ...interface{}) {
	l.logf(zapcore.WarnLevel, format, args...)
}

func (l *ContextLogger) Error(msg string) { l.log(zapcore.ErrorLevel, msg) }

func (l *ContextLogger) Errorf(format string, args ...interface{}) {
	l.logf(zapcore.ErrorLevel, format, args...)
}
