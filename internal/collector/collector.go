// 采集调度器：每次拉取时按规则发现维度、查询数据并转换为 gauge 指标族
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"
	"cloudwatch-exporter/internal/logger"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/multierr"
)

const (
	scrapeDurationName = "cloudwatch_exporter_scrape_duration_seconds"
	scrapeDurationHelp = "Time this CloudWatch scrape took, in seconds."
	scrapeErrorName    = "cloudwatch_exporter_scrape_error"
	scrapeErrorHelp    = "Non-zero if this scrape failed."
)

// ActiveConfig 一次成功加载产生的运行时快照。
// 重载时整体替换，进行中的采集继续使用开始时取到的快照
type ActiveConfig struct {
	Rules           []*config.MetricRule
	CloudWatch      awsprovider.CloudWatchAPI
	DimensionSource discovery.DimensionSource
	TagResolver     *discovery.TagResolver
	Pool            *utils.Pool
	Recorder        metrics.Recorder
	Path            string
}

// Status 定义采集器状态
type Status struct {
	LastStart    time.Time      `json:"last_start"`
	LastEnd      time.Time      `json:"last_end"`
	Duration     string         `json:"duration"`
	LastError    string         `json:"last_error,omitempty"`
	ScrapeError  bool           `json:"scrape_error"`
	Rules        int            `json:"rules"`
	Generation   int            `json:"generation"`
	ConfigPath   string         `json:"config_path,omitempty"`
	LoadedAt     time.Time      `json:"loaded_at"`
	SampleCounts map[string]int `json:"sample_counts"` // key: namespace
}

type activeState struct {
	config     *ActiveConfig
	generation int
	loadedAt   time.Time
}

// Collector 持有当前生效的配置快照与最近一次采集状态
type Collector struct {
	state    atomic.Pointer[activeState]
	reloadMu sync.Mutex

	now func() time.Time

	status     Status
	statusLock sync.RWMutex
}

func NewCollector(active *ActiveConfig) *Collector {
	c := &Collector{now: time.Now}
	c.Reload(active)
	return c
}

// Reload 替换生效配置。新快照自带新的维度缓存，旧缓存随旧快照一起丢弃
func (c *Collector) Reload(active *ActiveConfig) {
	normalizeActive(active)
	c.reloadMu.Lock()
	gen := 1
	if old := c.state.Load(); old != nil {
		gen = old.generation + 1
	}
	c.state.Store(&activeState{config: active, generation: gen, loadedAt: c.now()})
	c.reloadMu.Unlock()
	logger.Log.Infof("配置已生效 generation=%d rules=%d path=%s", gen, len(active.Rules), active.Path)
}

func normalizeActive(a *ActiveConfig) {
	if a.Recorder == nil {
		a.Recorder = metrics.Nop{}
	}
	if a.Pool == nil {
		a.Pool = utils.NewPool(config.DefaultParallelism, 0)
	}
	if a.DimensionSource == nil {
		a.DimensionSource = discovery.NewDefaultDimensionSource(a.CloudWatch, a.Recorder, a.Pool)
	}
}

// Active 当前生效的配置快照
func (c *Collector) Active() *ActiveConfig {
	return c.state.Load().config
}

// Generation 每次 Reload 加一，初始为 1
func (c *Collector) Generation() int {
	return c.state.Load().generation
}

// GetStatus 返回当前采集状态
func (c *Collector) GetStatus() Status {
	c.statusLock.RLock()
	st := c.status
	counts := make(map[string]int, len(c.status.SampleCounts))
	for k, v := range c.status.SampleCounts {
		counts[k] = v
	}
	c.statusLock.RUnlock()
	st.SampleCounts = counts

	cur := c.state.Load()
	st.Rules = len(cur.config.Rules)
	st.Generation = cur.generation
	st.ConfigPath = cur.config.Path
	st.LoadedAt = cur.loadedAt
	return st
}

// Scrape 执行一次完整采集。任何失败（包括 panic）都只体现在
// cloudwatch_exporter_scrape_error 上，耗时与错误两个指标族总是输出
func (c *Collector) Scrape(ctx context.Context) []*MetricFamily {
	active := c.Active()
	start := c.now()

	c.statusLock.Lock()
	c.status.LastStart = start
	c.statusLock.Unlock()

	var families []*MetricFamily
	counts := make(map[string]int)
	err := c.safeScrape(ctx, active, start, &families, counts)
	failed := 0.0
	if err != nil {
		failed = 1
		logger.Log.Warnf("CloudWatch scrape failed: %v", err)
	}

	end := c.now()
	families = append(families,
		scalarFamily(scrapeDurationName, scrapeDurationHelp, end.Sub(start).Seconds()),
		scalarFamily(scrapeErrorName, scrapeErrorHelp, failed),
	)

	c.statusLock.Lock()
	c.status.LastEnd = end
	c.status.Duration = end.Sub(start).String()
	c.status.ScrapeError = err != nil
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.status.SampleCounts = counts
	c.statusLock.Unlock()
	return families
}

func (c *Collector) safeScrape(ctx context.Context, active *ActiveConfig, start time.Time, out *[]*MetricFamily, counts map[string]int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during scrape: %v", r)
		}
	}()
	return c.scrape(ctx, active, start, out, counts)
}

// scrape 按命名空间累计样本数写入 counts
func (c *Collector) scrape(ctx context.Context, active *ActiveConfig, start time.Time, out *[]*MetricFamily, counts map[string]int) error {
	var errs error
	info := newResourceInfo()
	for _, rule := range active.Rules {
		// 仅响应调用方取消，采集本身不设超时
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		fams, err := c.scrapeRule(ctx, active, rule, start, info)
		*out = append(*out, fams...)
		for _, f := range fams {
			counts[rule.Namespace] += len(f.Samples)
		}
		if err != nil {
			// 其余规则继续采集
			errs = multierr.Append(errs, err)
		}
	}
	*out = append(*out, info.family())
	return errs
}

func (c *Collector) scrapeRule(ctx context.Context, active *ActiveConfig, rule *config.MetricRule, start time.Time, info *resourceInfo) ([]*MetricFamily, error) {
	var (
		mappings []discovery.ResourceTagMapping
		ids      []string
	)
	if active.TagResolver != nil && rule.TagSelect != nil {
		var err error
		mappings, ids, err = active.TagResolver.Resolve(ctx, rule)
		if err != nil {
			// 本周期该规则不按标签过滤
			mappings, ids = nil, nil
		}
	}
	info.add(rule, mappings)

	combos, err := active.DimensionSource.GetDimensions(ctx, rule, ids)
	if err != nil {
		return nil, utils.WrapErrorf(err, "discover dimensions %s/%s", rule.Namespace, rule.MetricName)
	}
	if len(combos) == 0 {
		if rule.WarnOnEmptyListDimensions {
			logger.NewContextLogger("CloudWatch", "namespace", rule.Namespace, "metric", rule.MetricName).
				Warnf("未发现任何维度组合 dimensions=%v", rule.Dimensions)
		}
		return nil, nil
	}

	winStart, winEnd := rule.Window(start)
	getter := newDataGetter(ctx, getterDeps{client: active.CloudWatch, rec: active.Recorder, pool: active.Pool}, rule, combos, winStart, winEnd)
	return buildFamilies(rule, combos, getter), nil
}

// buildFamilies 标准统计量按固定顺序、扩展统计量按规则声明顺序输出，没有样本的指标族不输出
func buildFamilies(rule *config.MetricRule, combos []discovery.DimensionCombination, getter DataGetter) []*MetricFamily {
	base := baseName(rule)
	job := jobName(rule)
	std := make(map[config.Statistic][]Sample)
	ext := make(map[string][]Sample)
	unit := ""

	for _, combo := range combos {
		d := getter.MetricRuleDataFor(combo)
		if d == nil {
			continue
		}
		unit = d.Unit

		lb := newLabelBuilder(2 + len(combo))
		lb.add("job", job)
		lb.add("instance", "")
		for _, dim := range combo {
			lb.add(dimensionLabel(aws.ToString(dim.Name)), aws.ToString(dim.Value))
		}
		var ts time.Time
		if rule.SetTimestamp {
			ts = d.Timestamp
		}

		for s, v := range d.Statistics {
			std[s] = append(std[s], Sample{Name: base + statisticSuffix[s], LabelNames: lb.names, LabelValues: lb.values, Value: v, Timestamp: ts})
		}
		for s, v := range d.Extended {
			ext[s] = append(ext[s], Sample{Name: base + extendedSuffix(s), LabelNames: lb.names, LabelValues: lb.values, Value: v, Timestamp: ts})
		}
	}

	var families []*MetricFamily
	for _, s := range config.StandardStatistics {
		if len(std[s]) == 0 {
			continue
		}
		families = append(families, &MetricFamily{Name: base + statisticSuffix[s], Help: helpText(rule, string(s), unit), Samples: std[s]})
	}
	seen := make(map[string]bool, len(rule.ExtendedStatistics))
	for _, s := range rule.ExtendedStatistics {
		if seen[s] || len(ext[s]) == 0 {
			continue
		}
		seen[s] = true
		families = append(families, &MetricFamily{Name: base + extendedSuffix(s), Help: helpText(rule, s, unit), Samples: ext[s]})
	}
	return families
}

func scalarFamily(name, help string, v float64) *MetricFamily {
	return &MetricFamily{Name: name, Help: help, Samples: []Sample{{Name: name, Value: v}}}
}
