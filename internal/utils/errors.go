package utils

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// WrapError 包装错误并添加上下文信息
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf 使用格式化字符串包装错误并添加上下文信息
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ErrorMessages 展开聚合错误，逐条返回；外层包装信息不保留
func ErrorMessages(err error) []string {
	if err == nil {
		return nil
	}
	var group interface{ Errors() []error }
	if !errors.As(err, &group) {
		return []string{err.Error()}
	}
	errs := multierr.Errors(group.(error))
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
