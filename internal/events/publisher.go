// Package events 把房間生命週期事件發佈到 NATS
//
// Subject 命名：{prefix}.{entity}.{action}
//
//	cursorrooms.room.created
//	cursorrooms.room.deleted
//	cursorrooms.host.changed
//	cursorrooms.match.made
//
// 發佈是非同步的：事件先進入有界佇列，由背景 goroutine 送出。
// 佇列滿時丟棄事件，房間狀態的處理不會被 NATS 拖慢。
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

// DefaultPrefix 預設 subject 前綴
const DefaultPrefix = "cursorrooms"

// 事件類型
const (
	TypeRoomCreated = "room.created"
	TypeRoomDeleted = "room.deleted"
	TypeHostChanged = "host.changed"
	TypeMatchMade   = "match.made"
)

// Event 發佈到 NATS 的訊息內容
type Event struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	Host      string    `json:"host,omitempty"`
	Guest     string    `json:"guest,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn 發佈端需要的 NATS 能力，*nats.Conn 滿足此介面
type Conn interface {
	Publish(subj string, data []byte) error
	Flush() error
}

// Config 發佈設定
type Config struct {
	Prefix    string
	QueueSize int
}

// Publisher 生命週期事件發佈者，同時實現 router.Observer
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time

	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewPublisher 創建發佈者並啟動背景 goroutine
func NewPublisher(conn Conn, cfg Config, logger *slog.Logger) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	p := &Publisher{
		conn:   conn,
		prefix: cfg.Prefix,
		logger: logger,
		now:    time.Now,
		queue:  make(chan Event, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Connect 連接 NATS
//
// 無限重連，斷線期間 nats.go 會暫存發佈的訊息。
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// Subject 事件類型對應的 subject
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *Publisher) enqueue(e Event) {
	e.Timestamp = p.now()

	select {
	case <-p.stopCh:
		p.dropped.Add(1)
		return
	default:
	}

	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
		p.logger.Warn("生命週期事件被丟棄", "type", e.Type, "room_id", e.RoomID)
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case e := <-p.queue:
			p.publish(e)
		case <-p.stopCh:
			// 送出剩餘事件
			for {
				select {
				case e := <-p.queue:
					p.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("編碼生命週期事件失敗", "type", e.Type, "error", err)
		return
	}

	if err := p.conn.Publish(p.Subject(e.Type), data); err != nil {
		p.failed.Add(1)
		p.logger.Warn("發佈生命週期事件失敗", "type", e.Type, "room_id", e.RoomID, "error", err)
		return
	}
	p.published.Add(1)
}

// Close 停止接收事件，送出佇列中剩餘的事件並 Flush
func (p *Publisher) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Stats 發佈統計
func (p *Publisher) Stats() map[string]int64 {
	return map[string]int64{
		"published": p.published.Load(),
		"dropped":   p.dropped.Load(),
		"failed":    p.failed.Load(),
	}
}

func (p *Publisher) RoomCreated(roomID string, host room.ConnID) {
	p.enqueue(Event{Type: TypeRoomCreated, RoomID: roomID, Host: string(host)})
}

func (p *Publisher) RoomDeleted(roomID string) {
	p.enqueue(Event{Type: TypeRoomDeleted, RoomID: roomID})
}

func (p *Publisher) HostChanged(roomID string, newHost room.ConnID) {
	p.enqueue(Event{Type: TypeHostChanged, RoomID: roomID, Host: string(newHost)})
}

func (p *Publisher) MatchMade(roomID string, host, guest room.ConnID) {
	p.enqueue(Event{Type: TypeMatchMade, RoomID: roomID, Host: string(host), Guest: string(guest)})
}

// 以下事件不發佈

func (p *Publisher) Connected(room.ConnID) {}
func (p *Publisher) Disconnected(room.ConnID) {}
func (p *Publisher) EventHandled(string, string) {}
