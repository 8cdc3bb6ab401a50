package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Statistic CloudWatch 标准统计量
type Statistic string

const (
	StatSum         Statistic = "Sum"
	StatSampleCount Statistic = "SampleCount"
	StatMinimum     Statistic = "Minimum"
	StatMaximum     Statistic = "Maximum"
	StatAverage     Statistic = "Average"
)

// StandardStatistics 固定顺序，输出指标族时按此顺序排列
var StandardStatistics = []Statistic{StatSum, StatSampleCount, StatMinimum, StatMaximum, StatAverage}

// ParseStatistic 校验统计量名称，大小写敏感
func ParseStatistic(s string) (Statistic, error) {
	for _, st := range StandardStatistics {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown statistic %q", s)
}

// DefaultARNResourceIDRegexp 取 ARN 末段；"type/id" 形式优先取 id
const DefaultARNResourceIDRegexp = `(?:([^:/]+)|[^:/]+/([^:]+))$`

var defaultARNRegexp = regexp.MustCompile(DefaultARNResourceIDRegexp)

// TagSelect 规则的标签筛选配置
type TagSelect struct {
	ResourceTypeSelection string
	ResourceIDDimension   string
	// TagSelections 标签键到允许值；值列表为空表示该键任意值均匹配
	TagSelections       map[string][]string
	ARNResourceIDRegexp *regexp.Regexp
}

// MetricRule 解析完成的指标规则，加载后不可变
type MetricRule struct {
	Namespace  string
	MetricName string
	Help       string
	HasHelp    bool
	Dimensions []string

	DimensionSelect      map[string][]string
	DimensionSelectRegex map[string][]*regexp.Regexp

	Statistics         []Statistic
	ExtendedStatistics []string

	PeriodSeconds int
	RangeSeconds  int
	DelaySeconds  int

	SetTimestamp              bool
	UseGetMetricData          bool
	WarnOnEmptyListDimensions bool

	TagSelect *TagSelect

	// ListMetricsCacheTTL 仅在 HasCacheTTLOverride 为 true 时有意义
	ListMetricsCacheTTL time.Duration
	HasCacheTTLOverride bool
}

// Window 返回查询窗口 [end-range, end]，end = now - delay
func (r *MetricRule) Window(now time.Time) (time.Time, time.Time) {
	end := now.Add(-time.Duration(r.DelaySeconds) * time.Second)
	start := end.Add(-time.Duration(r.RangeSeconds) * time.Second)
	return start, end
}

// ShardKey 用于多副本分片的稳定键
func (r *MetricRule) ShardKey() string {
	return r.Namespace + "|" + r.MetricName + "|" + strings.Join(r.Dimensions, ",")
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// DefaultCacheTTL 全局 list_metrics_cache_ttl，未配置为 0
func (c *Config) DefaultCacheTTL() time.Duration {
	if c.ListMetricsCacheTTL != nil {
		return c.ListMetricsCacheTTL.Duration
	}
	return 0
}

// BuildRules 合并全局默认值与规则级覆盖，并一次性返回全部校验错误
func BuildRules(c *Config) ([]*MetricRule, error) {
	var errs error

	period := intOr(c.PeriodSeconds, DefaultPeriodSeconds)
	rng := intOr(c.RangeSeconds, DefaultRangeSeconds)
	delay := intOr(c.DelaySeconds, DefaultDelaySeconds)
	setTimestamp := boolOr(c.SetTimestamp, true)
	useGMD := boolOr(c.UseGetMetricData, false)
	warnEmpty := boolOr(c.WarnOnEmptyListDimensions, false)

	rules := make([]*MetricRule, 0, len(c.Metrics))
	for i, mc := range c.Metrics {
		rule, err := buildRule(mc, period, rng, delay, setTimestamp, useGMD, warnEmpty)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("metrics[%d] (%s/%s): %w", i, mc.Namespace, mc.MetricName, err))
			continue
		}
		rules = append(rules, rule)
	}
	if errs != nil {
		return nil, errs
	}
	return rules, nil
}

func buildRule(mc MetricConf, period, rng, delay int, setTimestamp, useGMD, warnEmpty bool) (*MetricRule, error) {
	var errs error

	if mc.Namespace == "" {
		errs = multierr.Append(errs, fmt.Errorf("aws_namespace must be set"))
	}
	if mc.MetricName == "" {
		errs = multierr.Append(errs, fmt.Errorf("aws_metric_name must be set"))
	}
	if mc.DimensionSelect != nil && mc.DimensionSelectRegex != nil {
		errs = multierr.Append(errs, fmt.Errorf("aws_dimension_select and aws_dimension_select_regex cannot be used together"))
	}

	rule := &MetricRule{
		Namespace:                 mc.Namespace,
		MetricName:                mc.MetricName,
		Dimensions:                append([]string(nil), mc.Dimensions...),
		DimensionSelect:           mc.DimensionSelect,
		PeriodSeconds:             intOr(mc.PeriodSeconds, period),
		RangeSeconds:              intOr(mc.RangeSeconds, rng),
		DelaySeconds:              intOr(mc.DelaySeconds, delay),
		SetTimestamp:              boolOr(mc.SetTimestamp, setTimestamp),
		UseGetMetricData:          boolOr(mc.UseGetMetricData, useGMD),
		WarnOnEmptyListDimensions: boolOr(mc.WarnOnEmptyDimensions, warnEmpty),
	}
	if mc.Help != nil {
		rule.Help = *mc.Help
		rule.HasHelp = true
	}
	if rule.PeriodSeconds <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("period_seconds must be positive, got %d", rule.PeriodSeconds))
	}
	if rule.RangeSeconds <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("range_seconds must be positive, got %d", rule.RangeSeconds))
	}
	if rule.DelaySeconds < 0 {
		errs = multierr.Append(errs, fmt.Errorf("delay_seconds must not be negative, got %d", rule.DelaySeconds))
	}

	if mc.DimensionSelectRegex != nil {
		rule.DimensionSelectRegex = make(map[string][]*regexp.Regexp, len(mc.DimensionSelectRegex))
		for dim, patterns := range mc.DimensionSelectRegex {
			for _, p := range patterns {
				// 整串匹配
				re, err := regexp.Compile("^(?:" + p + ")$")
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("aws_dimension_select_regex[%s]: invalid regex %q: %w", dim, p, err))
					continue
				}
				rule.DimensionSelectRegex[dim] = append(rule.DimensionSelectRegex[dim], re)
			}
		}
	}

	// 未显式给出任何统计量时使用默认五项；仅给出扩展统计量时标准统计量为空
	if mc.Statistics == nil && mc.ExtendedStatistics == nil {
		rule.Statistics = append([]Statistic(nil), StandardStatistics...)
	} else {
		for _, s := range mc.Statistics {
			st, err := ParseStatistic(s)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("aws_statistics: %w", err))
				continue
			}
			rule.Statistics = append(rule.Statistics, st)
		}
		for _, s := range mc.ExtendedStatistics {
			if strings.TrimSpace(s) == "" {
				errs = multierr.Append(errs, fmt.Errorf("aws_extended_statistics: empty entry"))
				continue
			}
			rule.ExtendedStatistics = append(rule.ExtendedStatistics, s)
		}
		if len(rule.Statistics) == 0 && len(rule.ExtendedStatistics) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("at least one of aws_statistics or aws_extended_statistics must be non-empty"))
		}
	}

	if mc.TagSelect != nil {
		ts, err := buildTagSelect(mc.TagSelect)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		rule.TagSelect = ts
	}

	if mc.ListMetricsCacheTTL != nil {
		rule.ListMetricsCacheTTL = mc.ListMetricsCacheTTL.Duration
		rule.HasCacheTTLOverride = true
	}

	if errs != nil {
		return nil, errs
	}
	return rule, nil
}

func buildTagSelect(tc *TagSelectConf) (*TagSelect, error) {
	var errs error
	if tc.ResourceTypeSelection == "" {
		errs = multierr.Append(errs, fmt.Errorf("aws_tag_select: resource_type_selection must be set"))
	}
	if tc.ResourceIDDimension == "" {
		errs = multierr.Append(errs, fmt.Errorf("aws_tag_select: resource_id_dimension must be set"))
	}
	ts := &TagSelect{
		ResourceTypeSelection: tc.ResourceTypeSelection,
		ResourceIDDimension:   tc.ResourceIDDimension,
		TagSelections:         tc.TagSelections,
		ARNResourceIDRegexp:   defaultARNRegexp,
	}
	if tc.ARNResourceIDRegexp != "" {
		re, err := regexp.Compile(tc.ARNResourceIDRegexp)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("aws_tag_select: invalid arn_resource_id_regexp %q: %w", tc.ARNResourceIDRegexp, err))
		} else {
			ts.ARNResourceIDRegexp = re
		}
	}
	return ts, errs
}
