// 指标包：导出器自身的运行指标（API 调用次数、耗时、限流、缓存命中）
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

var (
	CloudWatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudwatch_requests_total",
			Help: "API requests made to CloudWatch",
		},
		[]string{"action", "namespace"},
	)
	CloudWatchMetricsRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudwatch_metrics_requested_total",
			Help: "Metrics requested by either GetMetricStatistics or GetMetricData",
		},
		[]string{"metric_name", "namespace"},
	)
	TaggingAPIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagging_api_requests_total",
			Help: "API requests made to the Resource Groups Tagging API",
		},
		[]string{"action", "resource_type"},
	)
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudwatch_exporter_api_request_total",
			Help: " - AWS API 调用结果统计",
		},
		[]string{"api", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudwatch_exporter_api_request_duration_seconds",
			Help:    " - AWS API 调用耗时（秒）",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"api"},
	)
	RateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudwatch_exporter_rate_limit_total",
			Help: " - AWS API 限流次数统计",
		},
		[]string{"api"},
	)
	DimensionCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudwatch_exporter_list_metrics_cache_total",
			Help: " - ListMetrics 维度缓存查询次数",
		},
		[]string{"result"},
	)
	ConfigReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudwatch_exporter_config_reload_total",
			Help: " - 配置重载次数",
		},
		[]string{"result"},
	)
)

// Collectors 返回全部运行指标，便于注册到自定义 Registry
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CloudWatchRequests,
		CloudWatchMetricsRequested,
		TaggingAPIRequests,
		RequestTotal,
		RequestDuration,
		RateLimitTotal,
		DimensionCacheLookups,
		ConfigReloads,
	}
}

// Register 注册全部运行指标；重复注册视为成功
func Register(reg prometheus.Registerer) error {
	var errs error
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Recorder 采集核心依赖的计数接口，测试中使用 Nop
type Recorder interface {
	CloudWatchRequest(action, namespace string)
	MetricsRequested(metricName, namespace string, n int)
	TaggingRequest(action, resourceType string)
	APIResult(api, status string, d time.Duration)
	CacheLookup(hit bool)
}

// PromRecorder 写入包级 Prometheus 指标与 API 统计窗口
type PromRecorder struct {
	Stats *APIStats
}

// NewPromRecorder stats 为 nil 时使用 DefaultAPIStats
func NewPromRecorder(stats *APIStats) *PromRecorder {
	if stats == nil {
		stats = DefaultAPIStats
	}
	return &PromRecorder{Stats: stats}
}

func (r *PromRecorder) CloudWatchRequest(action, namespace string) {
	CloudWatchRequests.WithLabelValues(action, namespace).Inc()
}

func (r *PromRecorder) MetricsRequested(metricName, namespace string, n int) {
	if n <= 0 {
		return
	}
	CloudWatchMetricsRequested.WithLabelValues(metricName, namespace).Add(float64(n))
}

func (r *PromRecorder) TaggingRequest(action, resourceType string) {
	TaggingAPIRequests.WithLabelValues(action, resourceType).Inc()
}

func (r *PromRecorder) APIResult(api, status string, d time.Duration) {
	RequestTotal.WithLabelValues(api, status).Inc()
	RequestDuration.WithLabelValues(api).Observe(d.Seconds())
	if status == "limit_error" {
		RateLimitTotal.WithLabelValues(api).Inc()
	}
	r.Stats.Record(api, status)
}

func (r *PromRecorder) CacheLookup(hit bool) {
	if hit {
		DimensionCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	DimensionCacheLookups.WithLabelValues("miss").Inc()
}

// Nop 丢弃所有计数
type Nop struct{}

func (Nop) CloudWatchRequest(string, string)        {}
func (Nop) MetricsRequested(string, string, int)    {}
func (Nop) TaggingRequest(string, string)           {}
func (Nop) APIResult(string, string, time.Duration) {}
func (Nop) CacheLookup(bool)                        {}
