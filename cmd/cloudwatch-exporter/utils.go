package main

import (
	"os"
	"strconv"

	"cloudwatch-exporter/internal/config"
)

// getEnv 获取环境变量，如果不存在返回空字符串
func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return ""
}

// listenPort EXPORTER_PORT 优先，其次配置文件，最后默认端口
func listenPort(cfg *config.Config) string {
	if port := getEnv("EXPORTER_PORT"); port != "" {
		return port
	}
	return strconv.Itoa(cfg.GetPort())
}
