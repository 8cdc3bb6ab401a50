package collector

import (
	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"
)

const (
	resourceInfoName = "aws_resource_info"
	resourceInfoHelp = "AWS information available for resource"
)

// resourceInfo 汇总一个采集周期内标签筛选命中的资源，同一 ARN 只输出一次
type resourceInfo struct {
	seen    map[string]struct{}
	samples []Sample
}

func newResourceInfo() *resourceInfo {
	return &resourceInfo{seen: make(map[string]struct{})}
}

func (r *resourceInfo) add(rule *config.MetricRule, mappings []discovery.ResourceTagMapping) {
	if rule.TagSelect == nil {
		return
	}
	job := jobName(rule)
	idLabel := dimensionLabel(rule.TagSelect.ResourceIDDimension)
	for _, m := range mappings {
		if _, ok := r.seen[m.ARN]; ok {
			continue
		}
		r.seen[m.ARN] = struct{}{}

		lb := newLabelBuilder(4 + len(m.Tags))
		lb.add("job", job)
		lb.add("instance", "")
		lb.add("arn", m.ARN)
		lb.add(idLabel, discovery.ExtractResourceID(m.ARN, rule.TagSelect.ARNResourceIDRegexp))
		for _, t := range m.Tags {
			// 标签键区分大小写，不做 snake case 转换；加 tag_ 前缀避免与其它标签冲突
			lb.add("tag_"+SafeLabelName(t.Key), t.Value)
		}
		r.samples = append(r.samples, Sample{
			Name:        resourceInfoName,
			LabelNames:  lb.names,
			LabelValues: lb.values,
			Value:       1,
		})
	}
}

// family 即使没有任何资源也返回该指标族
func (r *resourceInfo) family() *MetricFamily {
	return &MetricFamily{Name: resourceInfoName, Help: resourceInfoHelp, Samples: r.samples}
}

// labelBuilder 按添加顺序记录标签，重名时保留第一个
type labelBuilder struct {
	names  []string
	values []string
	seen   map[string]struct{}
}

func newLabelBuilder(n int) *labelBuilder {
	return &labelBuilder{
		names:  make([]string, 0, n),
		values: make([]string, 0, n),
		seen:   make(map[string]struct{}, n),
	}
}

func (b *labelBuilder) add(name, value string) {
	if _, ok := b.seen[name]; ok {
		return
	}
	b.seen[name] = struct{}{}
	b.names = append(b.names, name)
	b.values = append(b.values, value)
}
