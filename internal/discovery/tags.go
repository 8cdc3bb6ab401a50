package discovery

import (
	"context"
	"regexp"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/logger"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/providers/common"
	"cloudwatch-exporter/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	tagtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
)

// Tag 资源标签，保持 API 返回顺序
type Tag struct {
	Key   string
	Value string
}

// ResourceTagMapping 标签筛选命中的资源
type ResourceTagMapping struct {
	ARN  string
	Tags []Tag
}

var defaultARNRegexp = regexp.MustCompile(config.DefaultARNResourceIDRegexp)

// TagResolver 通过 Resource Groups Tagging API 解析规则的标签筛选
type TagResolver struct {
	client awsprovider.TaggingAPI
	rec    metrics.Recorder
	pool   *utils.Pool
	retry  common.RetryConfig
}

func NewTagResolver(client awsprovider.TaggingAPI, rec metrics.Recorder, pool *utils.Pool) *TagResolver {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if pool == nil {
		pool = utils.NewPool(1, 0)
	}
	return &TagResolver{client: client, rec: rec, pool: pool, retry: common.DefaultRetryConfig()}
}

// Resolve 返回命中的资源及其 ID。未配置 aws_tag_select 时不调用 API，返回 (nil, nil, nil)；
// 配置了标签筛选时 ids 非 nil（可能为空）。任一分页失败则整体返回错误，不使用部分结果
func (r *TagResolver) Resolve(ctx context.Context, rule *config.MetricRule) ([]ResourceTagMapping, []string, error) {
	ts := rule.TagSelect
	if ts == nil {
		return nil, nil, nil
	}

	input := &resourcegroupstaggingapi.GetResourcesInput{
		ResourceTypeFilters: []string{ts.ResourceTypeSelection},
		TagFilters:          tagFilters(ts.TagSelections),
	}
	ctxLog := logger.NewContextLogger("Tagging", "resource_type", ts.ResourceTypeSelection)

	var mappings []ResourceTagMapping
	paginator := resourcegroupstaggingapi.NewGetResourcesPaginator(r.client, input)
	for page := 1; paginator.HasMorePages(); page++ {
		var out *resourcegroupstaggingapi.GetResourcesOutput
		err := common.RetryWithBackoff(ctx, r.retry, func() error {
			return r.pool.Do(ctx, func(ctx context.Context) error {
				var err error
				out, err = paginator.NextPage(ctx)
				r.rec.TaggingRequest("getResources", ts.ResourceTypeSelection)
				return err
			})
		}, common.ShouldRetry)
		if err != nil {
			ctxLog.Warnf("GetResources API调用失败 page=%d: %v", page, err)
			return nil, nil, utils.WrapErrorf(err, "GetResources %s", ts.ResourceTypeSelection)
		}
		for _, m := range out.ResourceTagMappingList {
			mappings = append(mappings, convertMapping(m))
		}
	}

	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, ExtractResourceID(m.ARN, ts.ARNResourceIDRegexp))
	}
	ctxLog.Debugf("标签筛选完成 resources=%d", len(mappings))
	return mappings, ids, nil
}

// tagFilters 按键排序；值列表为空表示匹配该键的任意值
func tagFilters(selections map[string][]string) []tagtypes.TagFilter {
	if len(selections) == 0 {
		return nil
	}
	filters := make([]tagtypes.TagFilter, 0, len(selections))
	for _, k := range sortedKeys(selections) {
		filters = append(filters, tagtypes.TagFilter{Key: aws.String(k), Values: selections[k]})
	}
	return filters
}

func convertMapping(m tagtypes.ResourceTagMapping) ResourceTagMapping {
	out := ResourceTagMapping{ARN: aws.ToString(m.ResourceARN)}
	for _, t := range m.Tags {
		out.Tags = append(out.Tags, Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}

// ExtractResourceID 返回正则第一个非空捕获组，无匹配时返回空串
func ExtractResourceID(arn string, re *regexp.Regexp) string {
	if re == nil {
		re = defaultARNRegexp
	}
	groups := re.FindStringSubmatch(arn)
	for i := 1; i < len(groups); i++ {
		if groups[i] != "" {
			return groups[i]
		}
	}
	return ""
}
