package collector

import (
	"context"

	"cloudwatch-exporter/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
)

// Describe 不声明任何 Desc，作为 unchecked collector 注册，指标集合随配置变化
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect 每次拉取执行一次采集，所有规则尝试完毕才返回；单次调用的超时由客户端负责
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	Emit(c.Scrape(context.Background()), ch)
}

// Emit 将指标族转换为常量指标。同名指标族沿用第一个 help；
// 名称与标签完全相同的重复序列只保留第一条，避免 Gather 整体失败
func Emit(families []*MetricFamily, ch chan<- prometheus.Metric) int {
	helps := make(map[string]string)
	seen := make(map[uint64]struct{})
	sent := 0
	for _, f := range families {
		if !model.IsValidMetricName(model.LabelValue(f.Name)) {
			logger.Log.Warnf("跳过非法指标名 name=%s", f.Name)
			continue
		}
		help, ok := helps[f.Name]
		if !ok {
			help = f.Help
			helps[f.Name] = help
		}
		for _, s := range f.Samples {
			labels := s.Labels()
			labels[model.MetricNameLabel] = s.Name
			sig := model.LabelsToSignature(labels)
			if _, dup := seen[sig]; dup {
				continue
			}
			seen[sig] = struct{}{}

			m, err := constMetric(s, help)
			if err != nil {
				logger.Log.Warnf("构建指标失败 name=%s: %v", s.Name, err)
				continue
			}
			ch <- m
			sent++
		}
	}
	return sent
}

func constMetric(s Sample, help string) (prometheus.Metric, error) {
	lb := newLabelBuilder(len(s.LabelNames))
	for i, n := range s.LabelNames {
		lb.add(n, s.LabelValues[i])
	}
	desc := prometheus.NewDesc(s.Name, help, lb.names, nil)
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.Value, lb.values...)
	if err != nil {
		return nil, err
	}
	if !s.Timestamp.IsZero() {
		m = prometheus.NewMetricWithTimestamp(s.Timestamp, m)
	}
	return m, nil
}

var _ prometheus.Collector = (*Collector)(nil)
