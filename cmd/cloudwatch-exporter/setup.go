package main

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"cloudwatch-exporter/internal/collector"
	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/discovery"
	"cloudwatch-exporter/internal/logger"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/utils"
)

// buildActiveConfig 由一次成功加载构建运行时快照：AWS 客户端、工作池、维度源与标签解析器
func buildActiveConfig(ctx context.Context, factory awsprovider.ClientFactory, loaded *config.Loaded, rec metrics.Recorder, shard utils.Shard) (*collector.ActiveConfig, error) {
	cfg := loaded.Config
	opts := awsprovider.OptionsFromConfig(cfg)

	cw, err := factory.NewCloudWatchClient(ctx, opts)
	if err != nil {
		return nil, utils.WrapError(err, "failed to create CloudWatch client")
	}
	tagging, err := factory.NewTaggingClient(ctx, opts)
	if err != nil {
		return nil, utils.WrapError(err, "failed to create tagging client")
	}
	cw = awsprovider.InstrumentCloudWatch(cw, rec)
	tagging = awsprovider.InstrumentTagging(tagging, rec)

	pool := utils.NewPool(cfg.GetParallelism(), cfg.APIRateLimit)
	rules := collector.ShardRules(loaded.Rules, shard)
	if len(rules) != len(loaded.Rules) {
		logger.Log.Infof("分片过滤规则 shard=%d/%d rules=%d/%d", shard.Index, shard.Total, len(rules), len(loaded.Rules))
	}

	var dims discovery.DimensionSource = discovery.NewDefaultDimensionSource(cw, rec, pool)
	cacheCfg := discovery.NewCacheConfig(cfg.DefaultCacheTTL(), rules)
	if cacheCfg.Enabled() {
		dims = discovery.NewCachingDimensionSource(dims, cacheCfg, rec)
	}

	return &collector.ActiveConfig{
		Rules:           rules,
		CloudWatch:      cw,
		DimensionSource: dims,
		TagResolver:     discovery.NewTagResolver(tagging, rec, pool),
		Pool:            pool,
		Recorder:        rec,
		Path:            loaded.Path,
	}, nil
}

// reloader 串行化所有重载来源（HTTP、SIGHUP、文件监听），失败时保留当前配置
type reloader struct {
	mu      sync.Mutex
	path    string
	factory awsprovider.ClientFactory
	rec     metrics.Recorder
	shard   utils.Shard

	coll    *collector.Collector
	current atomic.Pointer[config.Loaded]
}

func newReloader(path string, factory awsprovider.ClientFactory, rec metrics.Recorder, shard utils.Shard) *reloader {
	return &reloader{path: path, factory: factory, rec: rec, shard: shard}
}

// start 用首次加载结果创建 Collector
func (r *reloader) start(ctx context.Context, loaded *config.Loaded) (*collector.Collector, error) {
	active, err := buildActiveConfig(ctx, r.factory, loaded, r.rec, r.shard)
	if err != nil {
		return nil, err
	}
	r.coll = collector.NewCollector(active)
	r.current.Store(loaded)
	return r.coll, nil
}

// Reload 重新读取配置文件；任一错误都使本次重载失败，运行中的配置不变
func (r *reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctxLog := logger.NewContextLogger("Config", "path", r.pathOrDefault())
	loaded, err := config.Load(r.path)
	if err == nil {
		var active *collector.ActiveConfig
		active, err = buildActiveConfig(ctx, r.factory, loaded, r.rec, r.shard)
		if err == nil {
			r.coll.Reload(active)
			r.current.Store(loaded)
			applyLogLevel(loaded.Config)
			metrics.ConfigReloads.WithLabelValues("success").Inc()
			ctxLog.Infof("配置重载成功 rules=%d", len(loaded.Rules))
			return nil
		}
	}
	metrics.ConfigReloads.WithLabelValues("failure").Inc()
	ctxLog.Warnf("配置重载失败，保留当前配置: %v", err)
	return err
}

// Config 当前生效的原始配置
func (r *reloader) Config() *config.Config {
	if l := r.current.Load(); l != nil {
		return l.Config
	}
	return nil
}

func (r *reloader) pathOrDefault() string {
	if r.path != "" {
		return r.path
	}
	if l := r.current.Load(); l != nil {
		return l.Path
	}
	return strings.Join(config.DefaultConfigPaths, ",")
}

func applyLogLevel(cfg *config.Config) {
	if cfg.Server != nil && cfg.Server.Log != nil {
		logger.SetLevel(cfg.Server.Log.Level)
	}
}
