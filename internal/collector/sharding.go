package collector

import (
	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/utils"
)

// ShardRules 多副本部署时按 namespace|metric|dimensions 的哈希分配规则
func ShardRules(rules []*config.MetricRule, shard utils.Shard) []*config.MetricRule {
	if shard.Total <= 1 {
		return rules
	}
	out := make([]*config.MetricRule, 0, len(rules)/shard.Total+1)
	for _, r := range rules {
		if shard.Owns(r.ShardKey()) {
			out = append(out, r)
		}
	}
	return out
}
