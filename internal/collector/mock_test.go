package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"
	"cloudwatch-exporter/internal/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockCloudWatch struct {
	mu        sync.Mutex
	gmsInputs []*cloudwatch.GetMetricStatisticsInput
	gmdInputs []*cloudwatch.GetMetricDataInput

	ListMetricsFunc         func(in *cloudwatch.ListMetricsInput) (*cloudwatch.ListMetricsOutput, error)
	GetMetricStatisticsFunc func(in *cloudwatch.GetMetricStatisticsInput) (*cloudwatch.GetMetricStatisticsOutput, error)
	GetMetricDataFunc       func(in *cloudwatch.GetMetricDataInput) (*cloudwatch.GetMetricDataOutput, error)
}

func (m *mockCloudWatch) ListMetrics(_ context.Context, in *cloudwatch.ListMetricsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error) {
	if m.ListMetricsFunc != nil {
		return m.ListMetricsFunc(in)
	}
	return &cloudwatch.ListMetricsOutput{}, nil
}

func (m *mockCloudWatch) GetMetricStatistics(_ context.Context, in *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	m.mu.Lock()
	m.gmsInputs = append(m.gmsInputs, in)
	m.mu.Unlock()
	if m.GetMetricStatisticsFunc != nil {
		return m.GetMetricStatisticsFunc(in)
	}
	return &cloudwatch.GetMetricStatisticsOutput{}, nil
}

func (m *mockCloudWatch) GetMetricData(_ context.Context, in *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	m.mu.Lock()
	m.gmdInputs = append(m.gmdInputs, in)
	m.mu.Unlock()
	if m.GetMetricDataFunc != nil {
		return m.GetMetricDataFunc(in)
	}
	return &cloudwatch.GetMetricDataOutput{}, nil
}

func (m *mockCloudWatch) gmsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gmsInputs)
}

func (m *mockCloudWatch) gmdCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gmdInputs)
}

// staticDimensions 按 namespace/metric 返回预置组合
type staticDimensions struct {
	combos map[string][]discovery.DimensionCombination
	errs   map[string]error
	panics bool

	mu  sync.Mutex
	ids map[string][]string
	// deadlines 每次调用时 ctx 是否带截止时间
	deadlines []bool
}

func (s *staticDimensions) GetDimensions(ctx context.Context, rule *config.MetricRule, ids []string) ([]discovery.DimensionCombination, error) {
	if s.panics {
		panic("boom")
	}
	key := rule.Namespace + "/" + rule.MetricName
	_, hasDeadline := ctx.Deadline()
	s.mu.Lock()
	s.deadlines = append(s.deadlines, hasDeadline)
	if s.ids == nil {
		s.ids = make(map[string][]string)
	}
	s.ids[key] = ids
	s.mu.Unlock()
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	return s.combos[key], nil
}

func combo(kv ...string) discovery.DimensionCombination {
	var c discovery.DimensionCombination
	for i := 0; i+1 < len(kv); i += 2 {
		c = append(c, cwtypes.Dimension{Name: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return c
}

func dimValue(dims []cwtypes.Dimension, name string) string {
	for _, d := range dims {
		if aws.ToString(d.Name) == name {
			return aws.ToString(d.Value)
		}
	}
	return ""
}

type countingRecorder struct {
	mu        sync.Mutex
	cw        map[string]int
	requested map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{cw: make(map[string]int), requested: make(map[string]int)}
}

func (r *countingRecorder) CloudWatchRequest(action, namespace string) {
	r.mu.Lock()
	r.cw[action+"|"+namespace]++
	r.mu.Unlock()
}

func (r *countingRecorder) MetricsRequested(metricName, namespace string, n int) {
	r.mu.Lock()
	r.requested[metricName+"|"+namespace] += n
	r.mu.Unlock()
}

func (r *countingRecorder) TaggingRequest(string, string)           {}
func (r *countingRecorder) APIResult(string, string, time.Duration) {}
func (r *countingRecorder) CacheLookup(bool)                        {}

func familyByName(fams []*MetricFamily, name string) *MetricFamily {
	for _, f := range fams {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func familyNames(fams []*MetricFamily) []string {
	out := make([]string, 0, len(fams))
	for _, f := range fams {
		out = append(out, f.Name)
	}
	return out
}

type mockTagging struct {
	mu               sync.Mutex
	n                int
	GetResourcesFunc func(in *resourcegroupstaggingapi.GetResourcesInput) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

func (m *mockTagging) GetResources(_ context.Context, in *resourcegroupstaggingapi.GetResourcesInput, _ ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
	m.mu.Lock()
	m.n++
	m.mu.Unlock()
	if m.GetResourcesFunc != nil {
		return m.GetResourcesFunc(in)
	}
	return &resourcegroupstaggingapi.GetResourcesOutput{}, nil
}

func (m *mockTagging) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// observeWarnings 将全局日志替换为 WARN 级别的观察者，测试结束后还原
func observeWarnings(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	original := logger.Log
	logger.Log = zap.New(core).Sugar()
	t.Cleanup(func() { logger.Log = original })
	return logs
}
