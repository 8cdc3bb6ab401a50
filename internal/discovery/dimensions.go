// 维度发现：通过 ListMetrics 枚举规则对应的维度组合，并按规则筛选
package discovery

import (
	"context"
	"strings"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// DimensionCombination 一条具体序列的维度名/值列表，顺序与 ListMetrics 返回一致
type DimensionCombination []cwtypes.Dimension

// Key 组合的稳定标识，用于结果匹配
func (d DimensionCombination) Key() string {
	var sb strings.Builder
	for _, dim := range d {
		sb.WriteString(aws.ToString(dim.Name))
		sb.WriteByte(0)
		sb.WriteString(aws.ToString(dim.Value))
		sb.WriteByte(0)
	}
	return sb.String()
}

// DimensionSource 返回规则适用的全部维度组合。
// resourceIDs 为 nil 表示不做标签过滤；非 nil（包括空切片）时仅保留
// resource_id_dimension 取值在其中的组合
type DimensionSource interface {
	GetDimensions(ctx context.Context, rule *config.MetricRule, resourceIDs []string) ([]DimensionCombination, error)
}

// DefaultDimensionSource 每次调用都直接查询 CloudWatch
type DefaultDimensionSource struct {
	client awsprovider.CloudWatchAPI
	rec    metrics.Recorder
	pool   *utils.Pool
}

func NewDefaultDimensionSource(client awsprovider.CloudWatchAPI, rec metrics.Recorder, pool *utils.Pool) *DefaultDimensionSource {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if pool == nil {
		pool = utils.NewPool(1, 0)
	}
	return &DefaultDimensionSource{client: client, rec: rec, pool: pool}
}

func (s *DefaultDimensionSource) GetDimensions(ctx context.Context, rule *config.MetricRule, resourceIDs []string) ([]DimensionCombination, error) {
	if len(rule.Dimensions) == 0 {
		// 无维度指标只有一条序列
		return []DimensionCombination{{}}, nil
	}

	if selectCoversAllDimensions(rule) {
		return permuteSelected(rule), nil
	}

	return s.listMetrics(ctx, rule, resourceIDs)
}

// selectCoversAllDimensions 每个维度都给出了取值列表且未配置标签筛选时，
// 组合可直接由取值列表展开，无需调用 ListMetrics
func selectCoversAllDimensions(rule *config.MetricRule) bool {
	if rule.DimensionSelect == nil || rule.TagSelect != nil {
		return false
	}
	if len(rule.DimensionSelect) != len(rule.Dimensions) {
		return false
	}
	for _, d := range rule.Dimensions {
		if _, ok := rule.DimensionSelect[d]; !ok {
			return false
		}
	}
	return true
}

// permuteSelected 按声明顺序展开各维度取值的笛卡尔积
func permuteSelected(rule *config.MetricRule) []DimensionCombination {
	out := []DimensionCombination{{}}
	for _, name := range rule.Dimensions {
		values := rule.DimensionSelect[name]
		next := make([]DimensionCombination, 0, len(out)*len(values))
		for _, prefix := range out {
			for _, v := range values {
				combo := make(DimensionCombination, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				combo = append(combo, cwtypes.Dimension{Name: aws.String(name), Value: aws.String(v)})
				next = append(next, combo)
			}
		}
		out = next
	}
	return out
}

func (s *DefaultDimensionSource) listMetrics(ctx context.Context, rule *config.MetricRule, resourceIDs []string) ([]DimensionCombination, error) {
	filters := make([]cwtypes.DimensionFilter, 0, len(rule.Dimensions))
	for _, d := range rule.Dimensions {
		filters = append(filters, cwtypes.DimensionFilter{Name: aws.String(d)})
	}
	input := &cloudwatch.ListMetricsInput{
		Namespace:  aws.String(rule.Namespace),
		MetricName: aws.String(rule.MetricName),
		Dimensions: filters,
	}

	var idSet map[string]struct{}
	if resourceIDs != nil {
		idSet = make(map[string]struct{}, len(resourceIDs))
		for _, id := range resourceIDs {
			idSet[id] = struct{}{}
		}
	}

	var combos []DimensionCombination
	paginator := cloudwatch.NewListMetricsPaginator(s.client, input)
	for paginator.HasMorePages() {
		var page *cloudwatch.ListMetricsOutput
		err := s.pool.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		s.rec.CloudWatchRequest("listMetrics", rule.Namespace)
		if err != nil {
			return nil, utils.WrapErrorf(err, "ListMetrics %s/%s", rule.Namespace, rule.MetricName)
		}
		for _, m := range page.Metrics {
			// ListMetrics 也会返回维度更多的序列
			if len(m.Dimensions) != len(rule.Dimensions) {
				continue
			}
			if !keepCombination(rule, m.Dimensions, idSet) {
				continue
			}
			combos = append(combos, DimensionCombination(m.Dimensions))
		}
	}
	return combos, nil
}

func keepCombination(rule *config.MetricRule, dims []cwtypes.Dimension, idSet map[string]struct{}) bool {
	for _, d := range dims {
		if !keepDimension(rule, aws.ToString(d.Name), aws.ToString(d.Value), idSet) {
			return false
		}
	}
	return true
}

func keepDimension(rule *config.MetricRule, name, value string, idSet map[string]struct{}) bool {
	if allowed, ok := rule.DimensionSelect[name]; ok {
		found := false
		for _, v := range allowed {
			if v == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if patterns, ok := rule.DimensionSelectRegex[name]; ok {
		found := false
		for _, re := range patterns {
			if re.MatchString(value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if idSet != nil && rule.TagSelect != nil && rule.TagSelect.ResourceIDDimension == name {
		if _, ok := idSet[value]; !ok {
			return false
		}
	}
	return true
}
