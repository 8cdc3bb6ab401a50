package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/metrics"
)

// CacheConfig 维度缓存 TTL：全局默认值加规则级覆盖。
// 覆盖项在配置加载时按规则指针登记一次，查询时不再重新计算
type CacheConfig struct {
	DefaultTTL time.Duration
	overrides  map[*config.MetricRule]time.Duration
}

// NewCacheConfig 登记 rules 中声明了 list_metrics_cache_ttl 的规则
func NewCacheConfig(defaultTTL time.Duration, rules []*config.MetricRule) *CacheConfig {
	c := &CacheConfig{DefaultTTL: defaultTTL, overrides: make(map[*config.MetricRule]time.Duration)}
	for _, r := range rules {
		if r.HasCacheTTLOverride {
			c.overrides[r] = r.ListMetricsCacheTTL
		}
	}
	return c
}

// TTL 规则的有效 TTL
func (c *CacheConfig) TTL(rule *config.MetricRule) time.Duration {
	if ttl, ok := c.overrides[rule]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// Enabled 默认 TTL 为 0 且没有任何规则覆盖时无需安装缓存
func (c *CacheConfig) Enabled() bool {
	return c.DefaultTTL > 0 || len(c.overrides) > 0
}

type cacheKey struct {
	namespace  string
	metricName string
	dimensions string
	filter     string
}

type cacheEntry struct {
	combos    []DimensionCombination
	fetchedAt time.Time
	ttl       time.Duration
}

// CachingDimensionSource 在 DimensionSource 外加一层按 TTL 失效的缓存。
// 锁只保护 map 读写，不跨越 ListMetrics 调用；同一 key 的并发刷新以最后一次写入为准
type CachingDimensionSource struct {
	next DimensionSource
	cfg  *CacheConfig
	rec  metrics.Recorder
	now  func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func NewCachingDimensionSource(next DimensionSource, cfg *CacheConfig, rec metrics.Recorder) *CachingDimensionSource {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &CachingDimensionSource{
		next:    next,
		cfg:     cfg,
		rec:     rec,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (s *CachingDimensionSource) GetDimensions(ctx context.Context, rule *config.MetricRule, resourceIDs []string) ([]DimensionCombination, error) {
	ttl := s.cfg.TTL(rule)
	if ttl <= 0 {
		return s.next.GetDimensions(ctx, rule, resourceIDs)
	}

	key := keyFor(rule, resourceIDs)
	now := s.now()

	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) <= ttl {
		s.rec.CacheLookup(true)
		return entry.combos, nil
	}
	s.rec.CacheLookup(false)

	combos, err := s.next.GetDimensions(ctx, rule, resourceIDs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.entries[key] = cacheEntry{combos: combos, fetchedAt: now, ttl: ttl}
	s.mu.Unlock()
	return combos, nil
}

// pruneLocked 写入时清理过期条目；标签筛选结果变化后旧 key 不会再被命中
func (s *CachingDimensionSource) pruneLocked(now time.Time) {
	for k, e := range s.entries {
		if now.Sub(e.fetchedAt) > e.ttl {
			delete(s.entries, k)
		}
	}
}

// Len 当前缓存条目数
func (s *CachingDimensionSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// keyFor 命名空间、指标、维度列表与全部筛选条件共同决定发现结果
func keyFor(rule *config.MetricRule, resourceIDs []string) cacheKey {
	var sb strings.Builder

	if rule.DimensionSelect != nil {
		sb.WriteString("select:")
		for _, k := range sortedKeys(rule.DimensionSelect) {
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(strings.Join(rule.DimensionSelect[k], ","))
			sb.WriteByte(';')
		}
	}
	if rule.DimensionSelectRegex != nil {
		sb.WriteString("regex:")
		names := make([]string, 0, len(rule.DimensionSelectRegex))
		for k := range rule.DimensionSelectRegex {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			sb.WriteString(k)
			sb.WriteByte('=')
			for i, re := range rule.DimensionSelectRegex[k] {
				if i > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(re.String())
			}
			sb.WriteByte(';')
		}
	}
	if rule.TagSelect != nil && resourceIDs != nil {
		ids := append([]string(nil), resourceIDs...)
		sort.Strings(ids)
		sb.WriteString("tag:")
		sb.WriteString(rule.TagSelect.ResourceIDDimension)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(ids, ","))
	}

	return cacheKey{
		namespace:  rule.Namespace,
		metricName: rule.MetricName,
		dimensions: strings.Join(rule.Dimensions, ","),
		filter:     sb.String(),
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
