package collector

import (
	"context"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/utils"
)

// MetricRuleData 单个维度组合在查询窗口内最新一个数据点的各统计量。
// 未返回的统计量不出现在 map 中，与 0 值区分
type MetricRuleData struct {
	Timestamp  time.Time
	Unit       string
	Statistics map[config.Statistic]float64
	Extended   map[string]float64
}

func newMetricRuleData() *MetricRuleData {
	return &MetricRuleData{
		Statistics: make(map[config.Statistic]float64),
		Extended:   make(map[string]float64),
	}
}

func (d *MetricRuleData) empty() bool {
	return len(d.Statistics) == 0 && len(d.Extended) == 0
}

// DataGetter 一个采集周期内某条规则的数据来源，返回 nil 表示该组合无数据
type DataGetter interface {
	MetricRuleDataFor(dims discovery.DimensionCombination) *MetricRuleData
}

// getterDeps 数据获取依赖
type getterDeps struct {
	client awsprovider.CloudWatchAPI
	rec    metrics.Recorder
	pool   *utils.Pool
}

// newDataGetter 按 use_get_metric_data 选择策略；两种实现都在构造时完成全部查询
func newDataGetter(ctx context.Context, deps getterDeps, rule *config.MetricRule, combos []discovery.DimensionCombination, start, end time.Time) DataGetter {
	if rule.UseGetMetricData {
		return NewGetMetricDataDataGetter(ctx, deps.client, deps.rec, deps.pool, rule, combos, start, end)
	}
	return NewGetMetricStatisticsDataGetter(ctx, deps.client, deps.rec, deps.pool, rule, combos, start, end)
}
