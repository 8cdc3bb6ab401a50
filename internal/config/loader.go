// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"

	"cloudwatch-exporter/internal/utils"
)

// DefaultConfigPaths 未设置 CONFIG_PATH 时依次尝试的路径
var DefaultConfigPaths = []string{"/app/configs/config.yaml", "./configs/config.yaml"}

// LoadConfigFile 读取配置文件：path 非空时只读该文件，否则返回 defaultPaths 中第一个存在的文件。
// 第二个返回值是实际读取的路径，供文件监听与 /status 使用
func LoadConfigFile(path string, defaultPaths []string) ([]byte, string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return data, path, nil
	}

	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read config file %s: %w", p, err)
			}
			return data, p, nil
		}
	}

	return nil, "", fmt.Errorf("config file not found in default paths: %v", defaultPaths)
}

// Loaded 是一次成功加载的结果：原始配置、解析后的规则与文件路径
type Loaded struct {
	Config *Config
	Rules  []*MetricRule
	Path   string
}

// Load 读取、解析并完整校验配置文件。任一错误都会使整个文件被拒绝，
// 调用方据此保留当前运行中的配置。
func Load(path string) (*Loaded, error) {
	data, actualPath, err := LoadConfigFile(path, DefaultConfigPaths)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, utils.WrapErrorf(err, "config %s", actualPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, utils.WrapErrorf(err, "config %s validation failed", actualPath)
	}
	rules, err := BuildRules(cfg)
	if err != nil {
		return nil, utils.WrapErrorf(err, "config %s validation failed", actualPath)
	}
	return &Loaded{Config: cfg, Rules: rules, Path: actualPath}, nil
}
