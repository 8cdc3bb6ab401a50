package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	tagtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
)

type mockCloudWatchClient struct {
	mu              sync.Mutex
	listMetricsCall int
	ListMetricsFunc func(in *cloudwatch.ListMetricsInput) (*cloudwatch.ListMetricsOutput, error)
}

func (m *mockCloudWatchClient) ListMetrics(ctx context.Context, in *cloudwatch.ListMetricsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error) {
	m.mu.Lock()
	m.listMetricsCall++
	m.mu.Unlock()
	if m.ListMetricsFunc != nil {
		return m.ListMetricsFunc(in)
	}
	return &cloudwatch.ListMetricsOutput{}, nil
}

func (m *mockCloudWatchClient) GetMetricStatistics(context.Context, *cloudwatch.GetMetricStatisticsInput, ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	return &cloudwatch.GetMetricStatisticsOutput{}, nil
}

func (m *mockCloudWatchClient) GetMetricData(context.Context, *cloudwatch.GetMetricDataInput, ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	return &cloudwatch.GetMetricDataOutput{}, nil
}

func (m *mockCloudWatchClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listMetricsCall
}

// pagedMetrics 按 NextToken 返回预置分页
func pagedMetrics(pages ...[]cwtypes.Metric) func(in *cloudwatch.ListMetricsInput) (*cloudwatch.ListMetricsOutput, error) {
	return func(in *cloudwatch.ListMetricsInput) (*cloudwatch.ListMetricsOutput, error) {
		idx := 0
		if in.NextToken != nil {
			for i := range pages {
				if *in.NextToken == tokenFor(i) {
					idx = i
				}
			}
		}
		out := &cloudwatch.ListMetricsOutput{Metrics: pages[idx]}
		if idx+1 < len(pages) {
			out.NextToken = aws.String(tokenFor(idx + 1))
		}
		return out, nil
	}
}

func tokenFor(i int) string {
	return "page-" + string(rune('0'+i))
}

func metric(kv ...string) cwtypes.Metric {
	m := cwtypes.Metric{}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Dimensions = append(m.Dimensions, cwtypes.Dimension{Name: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return m
}

type mockTaggingClient struct {
	mu               sync.Mutex
	inputs           []*resourcegroupstaggingapi.GetResourcesInput
	GetResourcesFunc func(in *resourcegroupstaggingapi.GetResourcesInput) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

func (m *mockTaggingClient) GetResources(ctx context.Context, in *resourcegroupstaggingapi.GetResourcesInput, _ ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.GetResourcesFunc != nil {
		return m.GetResourcesFunc(in)
	}
	return &resourcegroupstaggingapi.GetResourcesOutput{}, nil
}

func (m *mockTaggingClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func resource(arn string, kv ...string) tagtypes.ResourceTagMapping {
	r := tagtypes.ResourceTagMapping{ResourceARN: aws.String(arn)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Tags = append(r.Tags, tagtypes.Tag{Key: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return r
}

type countingRecorder struct {
	mu      sync.Mutex
	cw      map[string]int
	tagging map[string]int
	hits    int
	misses  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{cw: make(map[string]int), tagging: make(map[string]int)}
}

func (r *countingRecorder) CloudWatchRequest(action, namespace string) {
	r.mu.Lock()
	r.cw[action+"|"+namespace]++
	r.mu.Unlock()
}

func (r *countingRecorder) MetricsRequested(string, string, int) {}

func (r *countingRecorder) TaggingRequest(action, resourceType string) {
	r.mu.Lock()
	r.tagging[action+"|"+resourceType]++
	r.mu.Unlock()
}

func (r *countingRecorder) APIResult(string, string, time.Duration) {}

func (r *countingRecorder) CacheLookup(hit bool) {
	r.mu.Lock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()
}
