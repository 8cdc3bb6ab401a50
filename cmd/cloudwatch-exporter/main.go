// 导出器主入口：加载配置、注册指标，每次拉取 /metrics 时同步采集 CloudWatch
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/logger"
	"cloudwatch-exporter/internal/metrics"
	awsprovider "cloudwatch-exporter/internal/providers/aws"
	"cloudwatch-exporter/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	loaded, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Log.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Config.Server != nil && loaded.Config.Server.Log != nil {
		logger.Init(loaded.Config.Server.Log)
	}
	defer logger.Sync()

	logger.Log.Infof("配置加载完成 path=%s rules=%d", loaded.Path, len(loaded.Rules))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shard := utils.ClusterShard()
	rl := newReloader(os.Getenv("CONFIG_PATH"), awsprovider.NewClientFactory(), metrics.NewPromRecorder(nil), shard)
	coll, err := rl.start(ctx, loaded)
	if err != nil {
		logger.Log.Fatalf("Failed to initialise collector: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
		coll,
	)
	if err := metrics.Register(reg); err != nil {
		logger.Log.Fatalf("Failed to register metrics: %v", err)
	}

	// SIGHUP 触发重载
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				_ = rl.Reload(ctx)
			}
		}
	}()

	if loaded.Config.Server != nil && loaded.Config.Server.WatchConfig {
		w, err := config.NewWatcher(loaded.Path, config.DefaultWatchDebounce, func() { _ = rl.Reload(ctx) })
		if err != nil {
			logger.Log.Warnf("配置文件监听启动失败，仅支持手动重载: %v", err)
		} else {
			defer w.Close()
			go w.Run(ctx, func(err error) { logger.Log.Warnf("配置文件监听错误: %v", err) })
		}
	}

	port := listenPort(loaded.Config)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(&server{coll: coll, gatherer: reg, reloader: rl, shard: shard}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Log.Infof("服务启动，端口=%s", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatal(err)
	}
	logger.Log.Infof("服务已停止")
}
