// 配置包：定义导出器全局配置与指标规则的 YAML 结构，提供加载与校验能力
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cloudwatch-exporter/internal/utils"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// 全局默认值，与 YAML 中未显式配置时的行为一致
const (
	DefaultPeriodSeconds = 60
	DefaultRangeSeconds  = 600
	DefaultDelaySeconds  = 600
	DefaultPort          = 9106
	DefaultParallelism   = 5
	DefaultClientTimeout = 30 * time.Second
)

// expandEnv replaces ${var} or $var in the string according to the values
// of the current environment variables. It supports default values using
// the ${var:-default} syntax.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		// Handle ${VAR:-default}
		if k, def, cut := strings.Cut(key, ":-"); cut {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				return v
			}
			return def
		}
		return os.Getenv(key)
	})
}

// Config 对应一个完整的配置文件
type Config struct {
	Server *ServerConf `yaml:"server"`

	Region  string `yaml:"region"`
	RoleARN string `yaml:"role_arn"`
	// 静态凭证，留空时使用默认凭证链（环境变量、共享配置、实例角色）
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// Parallelism 进程级工作池大小：同时在途的 CloudWatch/Tagging 请求上限
	Parallelism int `yaml:"parallelism"`
	// APIRateLimit 每秒请求数上限，0 表示不限流
	APIRateLimit float64 `yaml:"api_rate_limit"`
	// ClientTimeout 单次 API 调用超时，支持 "30s"、"2m"、"1d"
	ClientTimeout string `yaml:"client_timeout"`
	MaxRetries    int    `yaml:"max_retries"`

	PeriodSeconds             *int         `yaml:"period_seconds"`
	RangeSeconds              *int         `yaml:"range_seconds"`
	DelaySeconds              *int         `yaml:"delay_seconds"`
	SetTimestamp              *bool        `yaml:"set_timestamp"`
	UseGetMetricData          *bool        `yaml:"use_get_metric_data"`
	ListMetricsCacheTTL       *CacheTTL    `yaml:"list_metrics_cache_ttl"`
	WarnOnEmptyListDimensions *bool        `yaml:"warn_on_empty_list_dimensions"`
	Metrics                   []MetricConf `yaml:"metrics"`
}

// MetricConf 是单条指标规则在 YAML 中的原始形态，由 BuildRules 解析为 MetricRule
type MetricConf struct {
	Namespace             string              `yaml:"aws_namespace"`
	MetricName            string              `yaml:"aws_metric_name"`
	Help                  *string             `yaml:"help"`
	Dimensions            []string            `yaml:"aws_dimensions"`
	DimensionSelect       map[string][]string `yaml:"aws_dimension_select"`
	DimensionSelectRegex  map[string][]string `yaml:"aws_dimension_select_regex"`
	Statistics            []string            `yaml:"aws_statistics"`
	ExtendedStatistics    []string            `yaml:"aws_extended_statistics"`
	PeriodSeconds         *int                `yaml:"period_seconds"`
	RangeSeconds          *int                `yaml:"range_seconds"`
	DelaySeconds          *int                `yaml:"delay_seconds"`
	SetTimestamp          *bool               `yaml:"set_timestamp"`
	UseGetMetricData      *bool               `yaml:"use_get_metric_data"`
	WarnOnEmptyDimensions *bool               `yaml:"warn_on_empty_list_dimensions"`
	ListMetricsCacheTTL   *CacheTTL           `yaml:"list_metrics_cache_ttl"`
	TagSelect             *TagSelectConf      `yaml:"aws_tag_select"`
}

// TagSelectConf 基于 Resource Groups Tagging API 的资源筛选
type TagSelectConf struct {
	ResourceTypeSelection string              `yaml:"resource_type_selection"`
	ResourceIDDimension   string              `yaml:"resource_id_dimension"`
	TagSelections         map[string][]string `yaml:"tag_selections"`
	ARNResourceIDRegexp   string              `yaml:"arn_resource_id_regexp"`
}

// CacheTTL 兼容两种写法：整数秒（与历史配置一致）或时间字符串（如 "10m"、"1d"）
type CacheTTL struct {
	time.Duration
}

func (t *CacheTTL) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		return fmt.Errorf("list_metrics_cache_ttl: empty value")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return fmt.Errorf("list_metrics_cache_ttl: negative value %d", n)
		}
		t.Duration = time.Duration(n) * time.Second
		return nil
	}
	d, err := utils.ParseDuration(raw)
	if err != nil {
		return utils.WrapErrorf(err, "list_metrics_cache_ttl: invalid value %q", raw)
	}
	if d < 0 {
		return fmt.Errorf("list_metrics_cache_ttl: negative value %q", raw)
	}
	t.Duration = d
	return nil
}

type ServerConf struct {
	Port int        `yaml:"port"`
	Log  *LogConfig `yaml:"log"`
	// WatchConfig 为 true 时监听配置文件变化并自动重载
	WatchConfig      bool        `yaml:"watch_config"`
	AdminAuthEnabled bool        `yaml:"admin_auth_enabled"`
	AdminAuth        []BasicAuth `yaml:"admin_auth"`
}

type FileLogConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // in MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // in days
	Compress   bool   `yaml:"compress"`
}

type LogConfig struct {
	Level  string         `yaml:"level"`  // debug, info, warn, error
	Format string         `yaml:"format"` // json, console
	Output string         `yaml:"output"` // stdout, file, both
	File   *FileLogConfig `yaml:"file"`
}

type BasicAuth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// GetPort 返回监听端口，未配置时使用默认值
func (c *Config) GetPort() int {
	if c.Server != nil && c.Server.Port > 0 {
		return c.Server.Port
	}
	return DefaultPort
}

// GetParallelism 返回工作池大小
func (c *Config) GetParallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return DefaultParallelism
}

// GetClientTimeout 解析 client_timeout，非法值在 Validate 中报告
func (c *Config) GetClientTimeout() time.Duration {
	if c.ClientTimeout == "" {
		return DefaultClientTimeout
	}
	d, err := utils.ParseDuration(c.ClientTimeout)
	if err != nil || d <= 0 {
		return DefaultClientTimeout
	}
	return d
}

// Validate 验证全局配置的完整性和合法性，规则级校验由 BuildRules 负责
func (c *Config) Validate() error {
	var errs error

	if c.Metrics == nil {
		errs = multierr.Append(errs, fmt.Errorf("must provide metrics"))
	}
	if c.Parallelism < 0 {
		errs = multierr.Append(errs, fmt.Errorf("invalid parallelism: %d", c.Parallelism))
	}
	if c.APIRateLimit < 0 {
		errs = multierr.Append(errs, fmt.Errorf("invalid api_rate_limit: %v", c.APIRateLimit))
	}
	if c.MaxRetries < 0 {
		errs = multierr.Append(errs, fmt.Errorf("invalid max_retries: %d", c.MaxRetries))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = multierr.Append(errs, fmt.Errorf("access_key_id and secret_access_key must be set together"))
	}
	if c.ClientTimeout != "" {
		if d, err := utils.ParseDuration(c.ClientTimeout); err != nil || d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("invalid client_timeout: %q", c.ClientTimeout))
		}
	}

	if c.Server != nil {
		if c.Server.Port < 0 || c.Server.Port > 65535 {
			errs = multierr.Append(errs, fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port))
		}
		if c.Server.Log != nil {
			level := strings.ToLower(c.Server.Log.Level)
			validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
			if !validLevels[level] {
				errs = multierr.Append(errs, fmt.Errorf("invalid log level: %s", c.Server.Log.Level))
			}
			output := strings.ToLower(c.Server.Log.Output)
			validOutputs := map[string]bool{"stdout": true, "console": true, "file": true, "both": true}
			if output != "" && !validOutputs[output] {
				errs = multierr.Append(errs, fmt.Errorf("invalid log output: %s", c.Server.Log.Output))
			}
		}
	}

	return errs
}

// Parse 展开环境变量并解析 YAML；空文件视为空配置（随后因缺少 metrics 校验失败）
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, utils.WrapError(err, "failed to parse config")
	}
	return &cfg, nil
}
