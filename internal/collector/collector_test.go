package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	tagtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scrapeTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func elbRule() *config.MetricRule {
	return &config.MetricRule{
		Namespace:     "AWS/ELB",
		MetricName:    "RequestCount",
		Dimensions:    []string{"AvailabilityZone", "LoadBalancerName"},
		Statistics:    append([]config.Statistic(nil), config.StandardStatistics...),
		PeriodSeconds: 60,
		RangeSeconds:  600,
		DelaySeconds:  600,
		SetTimestamp:  true,
	}
}

func newTestCollector(active *ActiveConfig) *Collector {
	c := NewCollector(active)
	c.now = func() time.Time { return scrapeTime }
	return c
}

func TestScrape_ELBEndToEnd(t *testing.T) {
	dpTime := scrapeTime.Add(-11 * time.Minute)
	cw := &mockCloudWatch{GetMetricStatisticsFunc: func(in *cloudwatch.GetMetricStatisticsInput) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return &cloudwatch.GetMetricStatisticsOutput{Datapoints: []cwtypes.Datapoint{
			{Timestamp: aws.Time(dpTime), Sum: aws.Float64(42), SampleCount: aws.Float64(3), Unit: cwtypes.StandardUnitCount},
		}}, nil
	}}
	dims := &staticDimensions{combos: map[string][]discovery.DimensionCombination{
		"AWS/ELB/RequestCount": {combo("AvailabilityZone", "us-east-1a", "LoadBalancerName", "lb1")},
	}}
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{elbRule()}, CloudWatch: cw, DimensionSource: dims})

	fams := c.Scrape(context.Background())

	assert.Equal(t, []string{
		"aws_elb_request_count_sum",
		"aws_elb_request_count_sample_count",
		"aws_resource_info",
		"cloudwatch_exporter_scrape_duration_seconds",
		"cloudwatch_exporter_scrape_error",
	}, familyNames(fams))

	sum := familyByName(fams, "aws_elb_request_count_sum")
	require.Len(t, sum.Samples, 1)
	s := sum.Samples[0]
	assert.Equal(t, 42.0, s.Value)
	assert.Equal(t, []string{"job", "instance", "availability_zone", "load_balancer_name"}, s.LabelNames)
	assert.Equal(t, []string{"aws_elb", "", "us-east-1a", "lb1"}, s.LabelValues)
	assert.Equal(t, dpTime, s.Timestamp)
	assert.Equal(t, "CloudWatch metric AWS/ELB RequestCount Dimensions: [AvailabilityZone, LoadBalancerName] Statistic: Sum Unit: Count", sum.Help)

	count := familyByName(fams, "aws_elb_request_count_sample_count")
	require.Len(t, count.Samples, 1)
	assert.Equal(t, 3.0, count.Samples[0].Value)
	assert.Equal(t, s.LabelValues, count.Samples[0].LabelValues)

	assert.Empty(t, familyByName(fams, "aws_resource_info").Samples)
	assert.Equal(t, 0.0, familyByName(fams, "cloudwatch_exporter_scrape_error").Samples[0].Value)

	// 查询窗口基于采集开始时间
	require.Equal(t, 1, cw.gmsCalls())
	assert.Equal(t, scrapeTime.Add(-20*time.Minute), aws.ToTime(cw.gmsInputs[0].StartTime))
	assert.Equal(t, scrapeTime.Add(-10*time.Minute), aws.ToTime(cw.gmsInputs[0].EndTime))

	st := c.GetStatus()
	assert.False(t, st.ScrapeError)
	assert.Equal(t, 2, st.SampleCounts["AWS/ELB"])
	assert.Equal(t, 1, st.Rules)
	assert.Equal(t, 1, st.Generation)
}

func TestScrape_NoTimestamp(t *testing.T) {
	cw := &mockCloudWatch{GetMetricStatisticsFunc: func(in *cloudwatch.GetMetricStatisticsInput) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return &cloudwatch.GetMetricStatisticsOutput{Datapoints: []cwtypes.Datapoint{{Timestamp: aws.Time(scrapeTime), Average: aws.Float64(1.5)}}}, nil
	}}
	rule := elbRule()
	rule.Dimensions = nil
	rule.SetTimestamp = false
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{rule}, CloudWatch: cw})

	fams := c.Scrape(context.Background())
	avg := familyByName(fams, "aws_elb_request_count_average")
	require.NotNil(t, avg)
	assert.True(t, avg.Samples[0].Timestamp.IsZero())
	assert.Equal(t, []string{"job", "instance"}, avg.Samples[0].LabelNames)
}

func TestScrape_EmptyDataProducesNoSamples(t *testing.T) {
	cw := &mockCloudWatch{}
	dims := &staticDimensions{combos: map[string][]discovery.DimensionCombination{
		"AWS/ELB/RequestCount": {combo("AvailabilityZone", "us-east-1a", "LoadBalancerName", "lb1")},
	}}
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{elbRule()}, CloudWatch: cw, DimensionSource: dims})

	fams := c.Scrape(context.Background())
	assert.Equal(t, []string{"aws_resource_info", "cloudwatch_exporter_scrape_duration_seconds", "cloudwatch_exporter_scrape_error"}, familyNames(fams))
	assert.Equal(t, 0.0, familyByName(fams, "cloudwatch_exporter_scrape_error").Samples[0].Value)
}

func TestScrape_ExtendedStatisticsFollowRuleOrder(t *testing.T) {
	cw := &mockCloudWatch{GetMetricStatisticsFunc: func(in *cloudwatch.GetMetricStatisticsInput) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return &cloudwatch.GetMetricStatisticsOutput{Datapoints: []cwtypes.Datapoint{{
			Timestamp:          aws.Time(scrapeTime),
			Maximum:            aws.Float64(9),
			ExtendedStatistics: map[string]float64{"p50": 1, "p99.9": 7, "p90": 5},
		}}}, nil
	}}
	rule := &config.MetricRule{
		Namespace:          "AWS/ApplicationELB",
		MetricName:         "TargetResponseTime",
		Statistics:         []config.Statistic{config.StatMaximum},
		ExtendedStatistics: []string{"p99.9", "p50", "p90"},
		PeriodSeconds:      60,
		RangeSeconds:       600,
	}
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{rule}, CloudWatch: cw})

	fams := c.Scrape(context.Background())
	assert.Equal(t, []string{
		"aws_applicationelb_target_response_time_maximum",
		"aws_applicationelb_target_response_time_p99_9",
		"aws_applicationelb_target_response_time_p50",
		"aws_applicationelb_target_response_time_p90",
	}, familyNames(fams)[:4])
	assert.Contains(t, familyByName(fams, "aws_applicationelb_target_response_time_p99_9").Help, "Statistic: p99.9")
}

func TestScrape_ResourceInfoOncePerARN(t *testing.T) {
	tagging := &mockTagging{GetResourcesFunc: func(in *resourcegroupstaggingapi.GetResourcesInput) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
		return &resourcegroupstaggingapi.GetResourcesOutput{ResourceTagMappingList: []tagtypes.ResourceTagMapping{{
			ResourceARN: aws.String("arn:aws:dynamodb:us-east-1:123:table/orders"),
			Tags:        []tagtypes.Tag{{Key: aws.String("Team"), Value: aws.String("payments")}, {Key: aws.String("cost-center"), Value: aws.String("42")}},
		}}}, nil
	}}
	tagSelect := &config.TagSelect{ResourceTypeSelection: "dynamodb:table", ResourceIDDimension: "TableName", TagSelections: map[string][]string{"Team": {"payments"}}}
	read := &config.MetricRule{Namespace: "AWS/DynamoDB", MetricName: "ConsumedReadCapacityUnits", Dimensions: []string{"TableName"}, Statistics: []config.Statistic{config.StatSum}, PeriodSeconds: 60, TagSelect: tagSelect}
	write := &config.MetricRule{Namespace: "AWS/DynamoDB", MetricName: "ConsumedWriteCapacityUnits", Dimensions: []string{"TableName"}, Statistics: []config.Statistic{config.StatSum}, PeriodSeconds: 60, TagSelect: tagSelect}
	dims := &staticDimensions{}

	c := newTestCollector(&ActiveConfig{
		Rules:           []*config.MetricRule{read, write},
		CloudWatch:      &mockCloudWatch{},
		DimensionSource: dims,
		TagResolver:     discovery.NewTagResolver(tagging, nil, nil),
	})
	fams := c.Scrape(context.Background())

	info := familyByName(fams, "aws_resource_info")
	require.Len(t, info.Samples, 1)
	s := info.Samples[0]
	assert.Equal(t, "AWS information available for resource", info.Help)
	assert.Equal(t, 1.0, s.Value)
	assert.Equal(t, []string{"job", "instance", "arn", "table_name", "tag_Team", "tag_cost_center"}, s.LabelNames)
	assert.Equal(t, []string{"aws_dynamodb", "", "arn:aws:dynamodb:us-east-1:123:table/orders", "orders", "payments", "42"}, s.LabelValues)

	assert.Equal(t, []string{"orders"}, dims.ids["AWS/DynamoDB/ConsumedReadCapacityUnits"])
	assert.Equal(t, 2, tagging.calls())
}

func TestScrape_TaggingFailureDropsFilter(t *testing.T) {
	tagging := &mockTagging{GetResourcesFunc: func(in *resourcegroupstaggingapi.GetResourcesInput) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
		return nil, errors.New("AccessDeniedException")
	}}
	rule := &config.MetricRule{
		Namespace:     "AWS/DynamoDB",
		MetricName:    "ConsumedReadCapacityUnits",
		Dimensions:    []string{"TableName"},
		Statistics:    []config.Statistic{config.StatSum},
		PeriodSeconds: 60,
		TagSelect:     &config.TagSelect{ResourceTypeSelection: "dynamodb:table", ResourceIDDimension: "TableName"},
	}
	dims := &staticDimensions{}
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{rule}, CloudWatch: &mockCloudWatch{}, DimensionSource: dims, TagResolver: discovery.NewTagResolver(tagging, nil, nil)})

	fams := c.Scrape(context.Background())
	ids, ok := dims.ids["AWS/DynamoDB/ConsumedReadCapacityUnits"]
	assert.True(t, ok)
	assert.Nil(t, ids)
	assert.Empty(t, familyByName(fams, "aws_resource_info").Samples)
	assert.Equal(t, 0.0, familyByName(fams, "cloudwatch_exporter_scrape_error").Samples[0].Value)
}

func TestScrape_DiscoveryErrorContinuesOtherRules(t *testing.T) {
	cw := &mockCloudWatch{GetMetricStatisticsFunc: func(in *cloudwatch.GetMetricStatisticsInput) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return &cloudwatch.GetMetricStatisticsOutput{Datapoints: []cwtypes.Datapoint{{Timestamp: aws.Time(scrapeTime), Sum: aws.Float64(1)}}}, nil
	}}
	broken := elbRule()
	healthy := &config.MetricRule{Namespace: "AWS/SQS", MetricName: "NumberOfMessagesSent", Dimensions: []string{"QueueName"}, Statistics: []config.Statistic{config.StatSum}, PeriodSeconds: 60}
	dims := &staticDimensions{
		combos: map[string][]discovery.DimensionCombination{"AWS/SQS/NumberOfMessagesSent": {combo("QueueName", "orders")}},
		errs:   map[string]error{"AWS/ELB/RequestCount": errors.New("AccessDenied")},
	}
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{broken, healthy}, CloudWatch: cw, DimensionSource: dims})

	fams := c.Scrape(context.Background())
	assert.NotNil(t, familyByName(fams, "aws_sqs_number_of_messages_sent_sum"))
	assert.Equal(t, 1.0, familyByName(fams, "cloudwatch_exporter_scrape_error").Samples[0].Value)
	assert.NotNil(t, familyByName(fams, "cloudwatch_exporter_scrape_duration_seconds"))

	st := c.GetStatus()
	assert.True(t, st.ScrapeError)
	assert.Contains(t, st.LastError, "AccessDenied")
}

func TestScrape_PanicIsReportedAsError(t *testing.T) {
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{elbRule()}, CloudWatch: &mockCloudWatch{}, DimensionSource: &staticDimensions{panics: true}})

	fams := c.Scrape(context.Background())
	assert.Equal(t, []string{"cloudwatch_exporter_scrape_duration_seconds", "cloudwatch_exporter_scrape_error"}, familyNames(fams))
	assert.Equal(t, 1.0, familyByName(fams, "cloudwatch_exporter_scrape_error").Samples[0].Value)
}

// 调用方取消时停止尝试后续规则
func TestScrape_CancelledContext(t *testing.T) {
	dims := &staticDimensions{}
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{elbRule(), elbRule()}, CloudWatch: &mockCloudWatch{}, DimensionSource: dims})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fams := c.Scrape(ctx)
	assert.Equal(t, 1.0, familyByName(fams, "cloudwatch_exporter_scrape_error").Samples[0].Value)
	assert.Empty(t, dims.deadlines)
	assert.Contains(t, c.GetStatus().LastError, context.Canceled.Error())
}

// 空发现告警每个采集周期都会输出，与维度缓存无关
func TestScrape_WarnOnEmptyDimensionsEveryCycle(t *testing.T) {
	logs := observeWarnings(t)
	quiet := elbRule()
	loud := elbRule()
	loud.MetricName = "Latency"
	loud.WarnOnEmptyListDimensions = true

	dims := &staticDimensions{}
	cached := discovery.NewCachingDimensionSource(dims, discovery.NewCacheConfig(time.Hour, nil), nil)
	c := newTestCollector(&ActiveConfig{Rules: []*config.MetricRule{quiet, loud}, CloudWatch: &mockCloudWatch{}, DimensionSource: cached})

	c.Scrape(context.Background())
	c.Scrape(context.Background())

	assert.Len(t, dims.deadlines, 2, "second cycle is served from the cache")
	warned := logs.FilterMessageSnippet("未发现任何维度组合")
	require.Equal(t, 2, warned.Len())
	for _, e := range warned.All() {
		assert.Contains(t, e.Message, "metric=Latency")
	}
}

func TestReload_SwapsSnapshot(t *testing.T) {
	first := &ActiveConfig{Rules: []*config.MetricRule{elbRule()}, CloudWatch: &mockCloudWatch{}, Path: "a.yaml"}
	c := newTestCollector(first)
	assert.Same(t, first, c.Active())
	assert.Equal(t, 1, c.Generation())
	assert.NotNil(t, first.DimensionSource)
	assert.NotNil(t, first.Pool)

	second := &ActiveConfig{CloudWatch: &mockCloudWatch{}, Path: "b.yaml"}
	c.Reload(second)
	assert.Same(t, second, c.Active())
	assert.Equal(t, 2, c.Generation())

	st := c.GetStatus()
	assert.Equal(t, 0, st.Rules)
	assert.Equal(t, "b.yaml", st.ConfigPath)

	fams := c.Scrape(context.Background())
	assert.Equal(t, []string{"aws_resource_info", "cloudwatch_exporter_scrape_duration_seconds", "cloudwatch_exporter_scrape_error"}, familyNames(fams))
}
