package collector

import (
	"context"
	"strconv"
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

// UnitUnknown GetMetricData 不返回单位，help 中以 N/A 标明
const UnitUnknown = "N/A"

// MaxQueriesPerRequest GetMetricData 单次请求的查询数上限
const MaxQueriesPerRequest = 500

type queryRef struct {
	comboKey string
	stat     string
	extended bool
}

type point struct {
	ts    time.Time
	value float64
}

// GetMetricDataDataGetter 把全部组合与统计量打包成 GetMetricData 查询，
// 每批最多 MaxQueriesPerRequest 条，批次之间经工作池并发
type GetMetricDataDataGetter struct {
	data map[string]*MetricRuleData
}

func NewGetMetricDataDataGetter(ctx context.Context, client awsprovider.CloudWatchAPI, rec metrics.Recorder, pool *utils.Pool, rule *config.MetricRule, combos []discovery.DimensionCombination, start, end time.Time) *GetMetricDataDataGetter {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if pool == nil {
		pool = utils.NewPool(1, 0)
	}
	g := &GetMetricDataDataGetter{data: make(map[string]*MetricRuleData)}
	ctxLog := logger.NewContextLogger("CloudWatch", "namespace", rule.Namespace, "metric", rule.MetricName)

	queries, refs := buildQueries(rule, combos)
	if len(queries) == 0 {
		return g
	}

	var batches [][]cwtypes.MetricDataQuery
	for i := 0; i < len(queries); i += MaxQueriesPerRequest {
		j := i + MaxQueriesPerRequest
		if j > len(queries) {
			j = len(queries)
		}
		batches = append(batches, queries[i:j])
	}

	var mu sync.Mutex
	latest := make(map[string]point)
	err := pool.Each(ctx, len(batches), func(ctx context.Context, b int) error {
		batch := batches[b]
		rec.MetricsRequested(rule.MetricName, rule.Namespace, len(batch))
		input := &cloudwatch.GetMetricDataInput{
			MetricDataQueries: batch,
			StartTime:         aws.Time(start),
			EndTime:           aws.Time(end),
			ScanBy:            cwtypes.ScanByTimestampDescending,
		}

		found := make(map[string]point)
		paginator := cloudwatch.NewGetMetricDataPaginator(client, input)
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			rec.CloudWatchRequest("getMetricData", rule.Namespace)
			if err != nil {
				// 该批次的组合全部视为无数据
				ctxLog.Warnf("GetMetricData 调用失败 batch=%d queries=%d: %v", b, len(batch), err)
				return nil
			}
			for _, r := range out.MetricDataResults {
				id := aws.ToString(r.Id)
				for k := range r.Timestamps {
					if k >= len(r.Values) {
						break
					}
					cur, ok := found[id]
					if !ok || r.Timestamps[k].After(cur.ts) {
						found[id] = point{ts: r.Timestamps[k], value: r.Values[k]}
					}
				}
			}
		}

		mu.Lock()
		for id, p := range found {
			latest[id] = p
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		ctxLog.Warnf("GetMetricData 批次未执行 skipped=%d batches=%d: %v", len(multierr.Errors(err)), len(batches), err)
	}

	for id, p := range latest {
		ref := refs[id]
		d, ok := g.data[ref.comboKey]
		if !ok {
			d = newMetricRuleData()
			d.Unit = UnitUnknown
			g.data[ref.comboKey] = d
		}
		if ref.extended {
			d.Extended[ref.stat] = p.value
		} else {
			d.Statistics[config.Statistic(ref.stat)] = p.value
		}
		if p.ts.After(d.Timestamp) {
			d.Timestamp = p.ts
		}
	}
	return g
}

func (g *GetMetricDataDataGetter) MetricRuleDataFor(dims discovery.DimensionCombination) *MetricRuleData {
	return g.data[dims.Key()]
}

// buildQueries 查询 ID 必须以小写字母开头，按 q0、q1... 顺序编号
func buildQueries(rule *config.MetricRule, combos []discovery.DimensionCombination) ([]cwtypes.MetricDataQuery, map[string]queryRef) {
	perCombo := len(rule.Statistics) + len(rule.ExtendedStatistics)
	queries := make([]cwtypes.MetricDataQuery, 0, len(combos)*perCombo)
	refs := make(map[string]queryRef, len(combos)*perCombo)

	add := func(combo discovery.DimensionCombination, stat string, extended bool) {
		id := "q" + strconv.Itoa(len(queries))
		queries = append(queries, cwtypes.MetricDataQuery{
			Id: aws.String(id),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String(rule.Namespace),
					MetricName: aws.String(rule.MetricName),
					Dimensions: combo,
				},
				Period: aws.Int32(int32(rule.PeriodSeconds)),
				Stat:   aws.String(stat),
			},
			ReturnData: aws.Bool(true),
		})
		refs[id] = queryRef{comboKey: combo.Key(), stat: stat, extended: extended}
	}

	for _, combo := range combos {
		for _, s := range rule.Statistics {
			add(combo, string(s), false)
		}
		for _, s := range rule.ExtendedStatistics {
			add(combo, s, true)
		}
	}
	return queries, refs
}
