package aws

import (
	"context"
	"time"

	"cloudwatch-exporter/internal/metrics"
	"cloudwatch-exporter/internal/providers/common"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
)

// 记录每次 AWS 调用的结果状态与耗时

type instrumentedCloudWatch struct {
	next CloudWatchAPI
	rec  metrics.Recorder
}

// InstrumentCloudWatch rec 为 nil 时原样返回
func InstrumentCloudWatch(next CloudWatchAPI, rec metrics.Recorder) CloudWatchAPI {
	if rec == nil {
		return next
	}
	return &instrumentedCloudWatch{next: next, rec: rec}
}

func observe(rec metrics.Recorder, api string, start time.Time, err error) {
	rec.APIResult(api, common.ClassifyAWSError(err), time.Since(start))
}

func (c *instrumentedCloudWatch) ListMetrics(ctx context.Context, in *cloudwatch.ListMetricsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error) {
	start := time.Now()
	out, err := c.next.ListMetrics(ctx, in, optFns...)
	observe(c.rec, "ListMetrics", start, err)
	return out, err
}

func (c *instrumentedCloudWatch) GetMetricStatistics(ctx context.Context, in *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	start := time.Now()
	out, err := c.next.GetMetricStatistics(ctx, in, optFns...)
	observe(c.rec, "GetMetricStatistics", start, err)
	return out, err
}

func (c *instrumentedCloudWatch) GetMetricData(ctx context.Context, in *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	start := time.Now()
	out, err := c.next.GetMetricData(ctx, in, optFns...)
	observe(c.rec, "GetMetricData", start, err)
	return out, err
}

type instrumentedTagging struct {
	next TaggingAPI
	rec  metrics.Recorder
}

func InstrumentTagging(next TaggingAPI, rec metrics.Recorder) TaggingAPI {
	if rec == nil {
		return next
	}
	return &instrumentedTagging{next: next, rec: rec}
}

func (c *instrumentedTagging) GetResources(ctx context.Context, in *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
	start := time.Now()
	out, err := c.next.GetResources(ctx, in, optFns...)
	observe(c.rec, "GetResources", start, err)
	return out, err
}
