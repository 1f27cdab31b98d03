package stats

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

// DefaultFlushInterval 預設寫回間隔
const DefaultFlushInterval = 5 * time.Second

// Recorder 在記憶體中累積計數，定期批次寫回 Store
//
// Observer 方法只更新記憶體中的 map，不做任何 I/O。
// 寫回失敗時保留增量，下次一併重試。
type Recorder struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder 創建 Recorder；interval <= 0 時使用預設值
func NewRecorder(store Store, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Recorder{
		store:    store,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]int64),
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動定期寫回
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.flushLoop()
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("統計寫回失敗", "error", err)
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Flush 立即寫回累積的增量
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.pending
	r.pending = make(map[string]int64)
	r.mu.Unlock()

	if err := r.store.Add(ctx, batch); err != nil {
		r.mu.Lock()
		for k, v := range batch {
			r.pending[k] += v
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// Snapshot 已寫回的值加上尚未寫回的增量
func (r *Recorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	pending := maps.Clone(r.pending)
	r.mu.Unlock()

	for k, v := range pending {
		stored[k] += v
	}
	return stored, nil
}

// Close 停止定期寫回並做最後一次寫回
func (r *Recorder) Close(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
	return r.Flush(ctx)
}

func (r *Recorder) incr(counter string) {
	r.mu.Lock()
	r.pending[counter]++
	r.mu.Unlock()
}

func (r *Recorder) Connected(room.ConnID) { r.incr(CounterConnections) }
func (r *Recorder) RoomCreated(string, room.ConnID) { r.incr(CounterRoomsCreated) }
func (r *Recorder) RoomDeleted(string) { r.incr(CounterRoomsDeleted) }
func (r *Recorder) HostChanged(string, room.ConnID) { r.incr(CounterHostChanges) }
func (r *Recorder) Disconnected(room.ConnID) {}
func (r *Recorder) EventHandled(string, string) {}

// MatchMade 配對房間也算一次房間建立
func (r *Recorder) MatchMade(string, room.ConnID, room.ConnID) {
	r.mu.Lock()
	r.pending[CounterMatches]++
	r.pending[CounterRoomsCreated]++
	r.mu.Unlock()
}
