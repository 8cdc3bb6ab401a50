package collector

import (
	"context"
	"sync"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"
	"cloudwatch-exporter/internal/logger"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/multierr"
)

// GetMetricStatisticsDataGetter 每个维度组合一次 GetMetricStatistics 调用，
// 调用经工作池并发执行
type GetMetricStatisticsDataGetter struct {
	data map[string]*MetricRuleData
}

func NewGetMetricStatisticsDataGetter(ctx context.Context, client awsprovider.CloudWatchAPI, rec metrics.Recorder, pool *utils.Pool, rule *config.MetricRule, combos []discovery.DimensionCombination, start, end time.Time) *GetMetricStatisticsDataGetter {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if pool == nil {
		pool = utils.NewPool(1, 0)
	}
	g := &GetMetricStatisticsDataGetter{data: make(map[string]*MetricRuleData, len(combos))}
	ctxLog := logger.NewContextLogger("CloudWatch", "namespace", rule.Namespace, "metric", rule.MetricName)

	stats := make([]cwtypes.Statistic, 0, len(rule.Statistics))
	for _, s := range rule.Statistics {
		stats = append(stats, cwtypes.Statistic(s))
	}

	var mu sync.Mutex
	err := pool.Each(ctx, len(combos), func(ctx context.Context, i int) error {
		combo := combos[i]
		input := &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String(rule.Namespace),
			MetricName: aws.String(rule.MetricName),
			Dimensions: combo,
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			Period:     aws.Int32(int32(rule.PeriodSeconds)),
		}
		if len(stats) > 0 {
			input.Statistics = stats
		}
		if len(rule.ExtendedStatistics) > 0 {
			input.ExtendedStatistics = rule.ExtendedStatistics
		}

		out, err := client.GetMetricStatistics(ctx, input)
		rec.CloudWatchRequest("getMetricStatistics", rule.Namespace)
		rec.MetricsRequested(rule.MetricName, rule.Namespace, 1)
		if err != nil {
			// 单个组合失败不影响其余组合
			ctxLog.Warnf("GetMetricStatistics 调用失败 dimensions=%v: %v", dimensionString(combo), err)
			return nil
		}

		d := latestDatapoint(out.Datapoints, rule)
		if d == nil {
			return nil
		}
		mu.Lock()
		g.data[combo.Key()] = d
		mu.Unlock()
		return nil
	})
	if err != nil {
		// 未能进入工作池的组合同样视为无数据
		ctxLog.Warnf("GetMetricStatistics 未执行 skipped=%d total=%d: %v", len(multierr.Errors(err)), len(combos), err)
	}
	return g
}

func (g *GetMetricStatisticsDataGetter) MetricRuleDataFor(dims discovery.DimensionCombination) *MetricRuleData {
	return g.data[dims.Key()]
}

// latestDatapoint 取时间戳最新的数据点，时间戳相同保留先出现者
func latestDatapoint(points []cwtypes.Datapoint, rule *config.MetricRule) *MetricRuleData {
	var latest *cwtypes.Datapoint
	for i := range points {
		p := &points[i]
		if p.Timestamp == nil {
			continue
		}
		if latest == nil || p.Timestamp.After(*latest.Timestamp) {
			latest = p
		}
	}
	if latest == nil {
		return nil
	}

	d := newMetricRuleData()
	d.Timestamp = *latest.Timestamp
	d.Unit = string(latest.Unit)
	for _, s := range rule.Statistics {
		if v := standardValue(latest, s); v != nil {
			d.Statistics[s] = *v
		}
	}
	for _, s := range rule.ExtendedStatistics {
		if v, ok := latest.ExtendedStatistics[s]; ok {
			d.Extended[s] = v
		}
	}
	if d.empty() {
		return nil
	}
	return d
}

func standardValue(p *cwtypes.Datapoint, s config.Statistic) *float64 {
	switch s {
	case config.StatSum:
		return p.Sum
	case config.StatSampleCount:
		return p.SampleCount
	case config.StatMinimum:
		return p.Minimum
	case config.StatMaximum:
		return p.Maximum
	case config.StatAverage:
		return p.Average
	}
	return nil
}

func dimensionString(combo discovery.DimensionCombination) string {
	s := "["
	for i, d := range combo {
		if i > 0 {
			s += " "
		}
		s += aws.ToString(d.Name) + "=" + aws.ToString(d.Value)
	}
	return s + "]"
}
