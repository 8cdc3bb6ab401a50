// Package common 提供 AWS 调用通用的错误分类和重试逻辑
package common

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"
)

// 统一错误状态码，用于指标标签与重试决策
const (
	ErrorStatusSuccess = "success"
	// ErrorStatusAuth 凭证无效、过期或无权限，不重试
	ErrorStatusAuth = "auth_error"
	// ErrorStatusLimit 限流，指数退避重试
	ErrorStatusLimit = "limit_error"
	// ErrorStatusNetwork 超时或连接失败，指数退避重试
	ErrorStatusNetwork = "network_error"
	// ErrorStatusNotFound 资源或参数不存在，不重试
	ErrorStatusNotFound = "not_found"
	ErrorStatusUnknown  = "error"
)

var authCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
	"SignatureDoesNotMatch":       true,
	"UnauthorizedOperation":       true,
}

var limitCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"LimitExceededException":                 true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"ProvisionedThroughputExceededException": true,
}

var notFoundCodes = map[string]bool{
	"ResourceNotFound":            true,
	"ResourceNotFoundException":   true,
	"InvalidParameterValue":       true,
	"InvalidParameterCombination": true,
}

// ClassifyAWSError 将错误归类为统一状态码：优先按 smithy APIError 错误码，
// 其次按 context/net 错误类型，最后退化为消息匹配
func ClassifyAWSError(err error) string {
	if err == nil {
		return ErrorStatusSuccess
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case authCodes[code]:
			return ErrorStatusAuth
		case limitCodes[code]:
			return ErrorStatusLimit
		case notFoundCodes[code]:
			return ErrorStatusNotFound
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorStatusNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorStatusNetwork
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "ExpiredToken") || strings.Contains(msg, "InvalidClientTokenId") || strings.Contains(msg, "AccessDenied"):
		return ErrorStatusAuth
	case strings.Contains(msg, "Throttling") || strings.Contains(msg, "Rate exceeded") || strings.Contains(msg, "TooManyRequests"):
		return ErrorStatusLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "no such host"):
		return ErrorStatusNetwork
	}
	return ErrorStatusUnknown
}

// ShouldRetry 仅对限流与网络错误重试
func ShouldRetry(err error) bool {
	switch ClassifyAWSError(err) {
	case ErrorStatusLimit, ErrorStatusNetwork:
		return true
	default:
		return false
	}
}
