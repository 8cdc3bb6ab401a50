package utils

import (
	"bufio"
	"hash/fnv"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
)

// lookupIPFunc 测试中替换 DNS 查询
var lookupIPFunc = net.LookupIP

// Shard 当前副本在多副本部署中的位置
type Shard struct {
	Total int `json:"total"`
	Index int `json:"index"`
}

// Owns 判断 key 是否由当前副本负责；单副本时总是 true
func (s Shard) Owns(key string) bool {
	if s.Total <= 1 {
		return true
	}
	return ShardIndex(key, s.Total) == s.Index
}

// ClusterShard 依次尝试 Headless Service、成员文件、静态环境变量确定当前分片
func ClusterShard() Shard {
	switch os.Getenv("CLUSTER_DISCOVERY") {
	case "headless":
		if s, ok := headlessShard(os.Getenv("CLUSTER_SVC"), os.Getenv("POD_IP")); ok {
			return s
		}
	case "file":
		self := os.Getenv("POD_NAME")
		if self == "" {
			self = os.Getenv("HOSTNAME")
		}
		if s, ok := fileShard(os.Getenv("CLUSTER_FILE"), self); ok {
			return s
		}
	}
	return staticShard()
}

func headlessShard(svc, selfIP string) (Shard, bool) {
	if svc == "" || selfIP == "" {
		return Shard{}, false
	}
	ips, err := lookupIPFunc(svc)
	if err != nil || len(ips) == 0 {
		return Shard{}, false
	}
	members := make([]string, 0, len(ips))
	for _, ip := range ips {
		members = append(members, ip.String())
	}
	return memberShard(members, selfIP)
}

func fileShard(path, self string) (Shard, bool) {
	if path == "" || self == "" {
		return Shard{}, false
	}
	f, err := os.Open(path)
	if err != nil {
		return Shard{}, false
	}
	defer func() { _ = f.Close() }()

	var members []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			members = append(members, line)
		}
	}
	return memberShard(members, self)
}

// memberShard 成员排序后按自身位置确定序号，不在列表中视为失败
func memberShard(members []string, self string) (Shard, bool) {
	sort.Strings(members)
	for i, m := range members {
		if m == self {
			return Shard{Total: len(members), Index: i}, true
		}
	}
	return Shard{}, false
}

// staticShard CLUSTER_WORKERS/CLUSTER_INDEX，兼容 EXPORT_SHARD_TOTAL/EXPORT_SHARD_INDEX
func staticShard() Shard {
	s := Shard{Total: 1}
	if n, err := strconv.Atoi(firstEnv("CLUSTER_WORKERS", "EXPORT_SHARD_TOTAL")); err == nil && n > 0 {
		s.Total = n
	}
	if n, err := strconv.Atoi(firstEnv("CLUSTER_INDEX", "EXPORT_SHARD_INDEX")); err == nil && n >= 0 {
		s.Index = n % s.Total
	}
	return s
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// ShardIndex 对 key 做 FNV-1a 哈希后取模
func ShardIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
