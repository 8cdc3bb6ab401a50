package collector

import "time"

// Sample 一条 gauge 样本，Timestamp 为零值时不携带时间戳
type Sample struct {
	Name        string
	LabelNames  []string
	LabelValues []string
	Value       float64
	Timestamp   time.Time
}

// MetricFamily 同名样本及其 help，类型固定为 gauge
type MetricFamily struct {
	Name    string
	Help    string
	Samples []Sample
}

// Labels 以 map 形式返回标签，同名标签以先出现者为准
func (s Sample) Labels() map[string]string {
	out := make(map[string]string, len(s.LabelNames))
	for i, n := range s.LabelNames {
		if _, ok := out[n]; ok {
			continue
		}
		out[n] = s.LabelValues[i]
	}
	return out
}
