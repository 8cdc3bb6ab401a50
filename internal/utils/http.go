package utils

import (
	"net"
	"net/http"
	"time"
)

// DefaultHTTPTimeout AWS SDK 客户端的整体请求超时
const DefaultHTTPTimeout = 30 * time.Second

// NewHTTPClient 创建 AWS SDK 使用的 HTTP 客户端。
// timeout<=0 时使用 DefaultHTTPTimeout；代理从 HTTP_PROXY/HTTPS_PROXY/NO_PROXY 读取
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20, // CloudWatch 与 Tagging 各一个 host，并发来自工作池
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
