package main

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cloudwatch-exporter/internal/collector"
	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/logger"
	"cloudwatch-exporter/internal/metrics"
	"cloudwatch-exporter/internal/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// staleAfter 超过该时长没有完成采集时 /healthz 报告 degraded
const staleAfter = 5 * time.Minute

type server struct {
	coll     *collector.Collector
	gatherer prometheus.Gatherer
	reloader *reloader
	shard    utils.Shard
}

// newRouter 设置所有 HTTP 处理器
func newRouter(s *server) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(logger.Log.Desugar()),
		ErrorHandling: promhttp.ContinueOnError,
	})).Methods(http.MethodGet)

	router.HandleFunc("/-/healthy", handleHealthy).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	// 管理端点（需要认证）
	authWrapper := createAuthWrapper(s.reloader.Config)
	router.HandleFunc("/-/reload", authWrapper(s.handleReload)).Methods(http.MethodPost, http.MethodPut)
	router.HandleFunc("/status", authWrapper(s.handleStatus)).Methods(http.MethodGet)

	return router
}

func handleHealthy(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleHealthz 深度检查：最近一次采集是否过旧
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":     "healthy",
		"time":       time.Now().Unix(),
		"generation": s.coll.Generation(),
	}

	status := s.coll.GetStatus()
	if !status.LastEnd.IsZero() && time.Since(status.LastEnd) > staleAfter {
		health["status"] = "degraded"
		health["warning"] = "last scrape completed more than 5 minutes ago"
		health["last_scrape"] = status.LastEnd.Format(time.RFC3339)
	}
	if status.ScrapeError {
		health["last_error"] = status.LastError
	}
	writeJSON(w, http.StatusOK, health)
}

// handleReload 重新加载配置文件，失败时返回全部错误且保留当前配置
func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.reloader.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "failed",
			"errors": utils.ErrorMessages(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reloaded",
		"generation": s.coll.Generation(),
	})
}

// handleStatus 采集状态、分片信息与 API 统计
func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		collector.Status
		Shard    utils.Shard       `json:"shard"`
		APIStats []metrics.APIStat `json:"api_stats"`
	}{
		Status:   s.coll.GetStatus(),
		Shard:    s.shard,
		APIStats: metrics.DefaultAPIStats.Snapshot(),
	}
	bs, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(bs)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// createAuthWrapper 创建 BasicAuth 认证包装器。账号在每次请求时读取，重载后立即生效
func createAuthWrapper(current func() *config.Config) func(http.HandlerFunc) http.HandlerFunc {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			pairs := collectAuthPairs(current())
			if len(pairs) == 0 {
				h(w, r)
				return
			}

			u, p, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 常量时间比较
			authed := false
			for _, pair := range pairs {
				if subtle.ConstantTimeCompare([]byte(u), []byte(pair.Username)) == 1 &&
					subtle.ConstantTimeCompare([]byte(p), []byte(pair.Password)) == 1 {
					authed = true
					break
				}
			}
			if !authed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			h(w, r)
		}
	}
}

// collectAuthPairs 收集所有认证账号对：环境变量优先，其次配置文件
func collectAuthPairs(cfg *config.Config) []config.BasicAuth {
	var pairs []config.BasicAuth

	if ev := getEnv("ADMIN_AUTH_ENABLED"); ev == "1" || strings.EqualFold(ev, "true") || strings.EqualFold(ev, "yes") {
		// ADMIN_AUTH 支持 JSON 数组或 "user:pass,user2:pass2"
		if raw := getEnv("ADMIN_AUTH"); raw != "" {
			var xs []config.BasicAuth
			if json.Unmarshal([]byte(raw), &xs) == nil && len(xs) > 0 {
				pairs = append(pairs, xs...)
			} else {
				for _, seg := range strings.Split(raw, ",") {
					kv := strings.SplitN(strings.TrimSpace(seg), ":", 2)
					if len(kv) == 2 && kv[0] != "" {
						pairs = append(pairs, config.BasicAuth{Username: kv[0], Password: kv[1]})
					}
				}
			}
		}

		u := getEnv("ADMIN_USERNAME")
		p := getEnv("ADMIN_PASSWORD")
		if u != "" && p != "" {
			pairs = append(pairs, config.BasicAuth{Username: u, Password: p})
		}
	}

	if len(pairs) == 0 && cfg != nil && cfg.Server != nil && cfg.Server.AdminAuthEnabled {
		pairs = append(pairs, cfg.Server.AdminAuth...)
	}
	return pairs
}
