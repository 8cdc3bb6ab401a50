package collector

import (
	"regexp"
	"strings"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/providers/common"
)

var (
	camelBoundary   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9:_]`)
	unsafeLabelChar = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	multiUnderscore = regexp.MustCompile(`__+`)
)

// toSnakeCase "RequestCount" -> "request_count"，连续大写不拆分（"ELBName" -> "elbname"）
func toSnakeCase(s string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(s, "${1}_${2}"))
}

// SafeName 非法字符替换为下划线并合并连续下划线，可重复调用
func SafeName(s string) string {
	return multiUnderscore.ReplaceAllString(unsafeNameChars.ReplaceAllString(s, "_"), "_")
}

// SafeLabelName 同 SafeName，但标签名不允许冒号
func SafeLabelName(s string) string {
	return multiUnderscore.ReplaceAllString(unsafeLabelChar.ReplaceAllString(s, "_"), "_")
}

// baseName 规则输出指标的公共前缀，如 aws_elb_request_count
func baseName(rule *config.MetricRule) string {
	name := SafeName(strings.ToLower(rule.Namespace) + "_" + toSnakeCase(rule.MetricName))
	if rule.Namespace == common.NamespaceDynamoDB && common.DynamoDBIndexMetrics[rule.MetricName] {
		for _, d := range rule.Dimensions {
			if d == common.DimensionGlobalSecondaryIndexName {
				// 与表级同名指标区分
				return name + "_index"
			}
		}
	}
	return name
}

func jobName(rule *config.MetricRule) string {
	return SafeName(strings.ToLower(rule.Namespace))
}

func dimensionLabel(dimension string) string {
	return SafeLabelName(toSnakeCase(dimension))
}

var statisticSuffix = map[config.Statistic]string{
	config.StatSum:         "_sum",
	config.StatSampleCount: "_sample_count",
	config.StatMinimum:     "_minimum",
	config.StatMaximum:     "_maximum",
	config.StatAverage:     "_average",
}

func extendedSuffix(stat string) string {
	return "_" + SafeName(toSnakeCase(stat))
}

func helpText(rule *config.MetricRule, statistic, unit string) string {
	if rule.HasHelp {
		return rule.Help
	}
	return "CloudWatch metric " + rule.Namespace + " " + rule.MetricName +
		" Dimensions: [" + strings.Join(rule.Dimensions, ", ") + "]" +
		" Statistic: " + statistic + " Unit: " + unit
}
