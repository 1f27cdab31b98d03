// Package metrics 定義伺服器的 Prometheus 指標
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koopa0/system-design/cursor-rooms/internal/protocol"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

const namespace = "cursor_rooms"

// Sources 即時狀態的來源，抓取時才讀取
type Sources struct {
	Rooms       func() room.Stats
	Connections func() int
}

// Metrics 伺服器指標，同時實現 router.Observer 與 broadcast.DropCounter
type Metrics struct {
	events       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	roomsCreated prometheus.Counter
	roomsDeleted prometheus.Counter
	hostChanges  prometheus.Counter
	matches      prometheus.Counter
	connects     prometheus.Counter
	disconnects  prometheus.Counter
}

// New 建立指標並註冊到 reg
//
// 註冊失敗時 panic（與 prometheus 慣例一致）。
func New(reg prometheus.Registerer, src Sources) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of client events handled, by event and status",
		}, []string{"event", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of outbound frames dropped because the connection buffer was full",
		}, []string{"event"}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Total number of rooms created explicitly",
		}),
		roomsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_deleted_total",
			Help:      "Total number of rooms deleted after the last member left",
		}),
		hostChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_changes_total",
			Help:      "Total number of host handoffs",
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Total number of matchmaking pairs",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of WebSocket connections accepted",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of WebSocket connections cleaned up",
		}),
	}

	reg.MustRegister(
		m.events,
		m.dropped,
		m.roomsCreated,
		m.roomsDeleted,
		m.hostChanges,
		m.matches,
		m.connects,
		m.disconnects,
	)

	if src.Rooms != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms",
				Help:      "Number of live rooms",
			}, func() float64 { return float64(src.Rooms().Rooms) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "members",
				Help:      "Number of players in rooms",
			}, func() float64 { return float64(src.Rooms().Members) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "matchmaking_queue_length",
				Help:      "Number of players waiting for a match",
			}, func() float64 { return float64(src.Rooms().Queued) }),
		)
	}
	if src.Connections != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		}, func() float64 { return float64(src.Connections()) }))
	}

	return m
}

// Handler 回傳 /metrics 端點
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var knownEvents = map[string]bool{
	protocol.EventRoomCreate:        true,
	protocol.EventRoomJoin:          true,
	protocol.EventRoomLeave:         true,
	protocol.EventCursorMove:        true,
	protocol.EventMatchmakingJoin:   true,
	protocol.EventMatchmakingCancel: true,
}

// eventLabel 未知事件歸為 "unknown"，避免標籤基數失控
func eventLabel(event string) string {
	if knownEvents[event] {
		return event
	}
	return "unknown"
}

func (m *Metrics) EventHandled(event, status string) {
	m.events.WithLabelValues(eventLabel(event), status).Inc()
}

// MessageDropped 實現 broadcast.DropCounter
func (m *Metrics) MessageDropped(event string) {
	m.dropped.WithLabelValues(event).Inc()
}

func (m *Metrics) Connected(room.ConnID) { m.connects.Inc() }
func (m *Metrics) Disconnected(room.ConnID) { m.disconnects.Inc() }

func (m *Metrics) RoomCreated(string, room.ConnID) { m.roomsCreated.Inc() }
func (m *Metrics) RoomDeleted(string) { m.roomsDeleted.Inc() }
func (m *Metrics) HostChanged(string, room.ConnID) { m.hostChanges.Inc() }

func (m *Metrics) MatchMade(string, room.ConnID, room.ConnID) { m.matches.Inc() }
