package metrics

import (
	"sort"
	"sync"
	"time"
)

// windowSize 秒级环形窗口，覆盖最近 5 分钟
const windowSize = int64(300)

type timeBucket struct {
	ts    int64
	count int64
}

type apiStat struct {
	mu      sync.Mutex
	total   int64
	status  map[string]int64
	buckets []timeBucket
}

// APIStats 按 API 统计调用总数、状态分布与滑动窗口 QPS，供 /status 展示
type APIStats struct {
	mu    sync.RWMutex
	stats map[string]*apiStat
	now   func() time.Time
}

// DefaultAPIStats 进程级实例
var DefaultAPIStats = NewAPIStats()

func NewAPIStats() *APIStats {
	return &APIStats{stats: make(map[string]*apiStat), now: time.Now}
}

func (s *APIStats) get(api string) *apiStat {
	s.mu.RLock()
	st := s.stats[api]
	s.mu.RUnlock()
	if st != nil {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.stats[api]; st == nil {
		st = &apiStat{status: make(map[string]int64), buckets: make([]timeBucket, windowSize)}
		s.stats[api] = st
	}
	return st
}

// Record 记录一次调用结果
func (s *APIStats) Record(api, status string) {
	now := s.now().Unix()
	slot := now % windowSize
	st := s.get(api)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.total++
	if status != "" {
		st.status[status]++
	}
	if st.buckets[slot].ts != now {
		st.buckets[slot] = timeBucket{ts: now}
	}
	st.buckets[slot].count++
}

type APIStat struct {
	API         string           `json:"api"`
	Total       int64            `json:"total"`
	StatusCount map[string]int64 `json:"status_count"`
	QPS1m       float64          `json:"qps_1m"`
	QPS5m       float64          `json:"qps_5m"`
}

// Snapshot 返回按 API 名排序的统计快照
func (s *APIStats) Snapshot() []APIStat {
	now := s.now().Unix()

	s.mu.RLock()
	out := make([]APIStat, 0, len(s.stats))
	for api, st := range s.stats {
		st.mu.Lock()
		var c1, c5 int64
		for _, b := range st.buckets {
			age := now - b.ts
			if age < 0 || b.count == 0 {
				continue
			}
			if age < 60 {
				c1 += b.count
			}
			if age < windowSize {
				c5 += b.count
			}
		}
		sc := make(map[string]int64, len(st.status))
		for k, v := range st.status {
			sc[k] = v
		}
		out = append(out, APIStat{
			API:         api,
			Total:       st.total,
			StatusCount: sc,
			QPS1m:       float64(c1) / 60.0,
			QPS5m:       float64(c5) / float64(windowSize),
		})
		st.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].API < out[j].API })
	return out
}
