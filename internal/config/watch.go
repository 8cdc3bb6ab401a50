package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloudwatch-exporter/internal/utils"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce 编辑器保存、ConfigMap 更新通常产生一串事件，合并为一次重载
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher 监听配置文件所在目录。监听目录而非文件本身，
// 以便覆盖原子替换（rename）与 Kubernetes ConfigMap 的 ..data 软链切换
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	fsw      *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, utils.WrapErrorf(err, "resolve config path %s", path)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, utils.WrapError(err, "failed to create fsnotify watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, utils.WrapErrorf(err, "watch %s", filepath.Dir(abs))
	}
	return &Watcher{path: abs, debounce: debounce, onChange: onChange, fsw: fsw}, nil
}

// Run 阻塞直到 ctx 结束或 watcher 关闭
func (w *Watcher) Run(ctx context.Context, errFn func(error)) {
	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil && errFn != nil {
				errFn(err)
			}
		}
	}
}

func (w *Watcher) Close() error {
	w.stopTimer()
	return w.fsw.Close()
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	return filepath.Clean(ev.Name) == w.path || name == filepath.Base(w.path) || strings.HasPrefix(name, "..data")
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
