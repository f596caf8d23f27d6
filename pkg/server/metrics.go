package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveConnections atomic.Int64 // currently registered connections
	TotalDisconnects  atomic.Int64
	RejectedOrigins   atomic.Int64 // upgrades refused by the origin allow-list
	FramesDropped     atomic.Int64 // frames a client could not accept (closed or buffer full)

	// Matchmaking counters
	QueueJoins      atomic.Int64
	QueueLeaves     atomic.Int64
	RoomsCreated    atomic.Int64
	RoomsDestroyed  atomic.Int64
	PairingsAborted atomic.Int64 // dequeued pair with a dead connection

	// Relay counters
	MessagesRelayed       atomic.Int64 // raw messages delivered to a partner
	MessagesDropped       atomic.Int64 // unknown room or sender not an occupant
	TranslationsDelivered atomic.Int64
	TranslationsFailed    atomic.Int64 // gateway failure, event withheld
	TranslationsDiscarded atomic.Int64 // room gone before the result arrived
	TranslationsSkipped   atomic.Int64 // text already in the target language

	// Protocol counters
	ProtocolErrors atomic.Int64 // error events sent to clients
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all counters.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	RejectedOrigins   int64 `json:"rejected_origins"`
	FramesDropped     int64 `json:"frames_dropped"`

	QueueJoins      int64 `json:"queue_joins"`
	QueueLeaves     int64 `json:"queue_leaves"`
	RoomsCreated    int64 `json:"rooms_created"`
	RoomsDestroyed  int64 `json:"rooms_destroyed"`
	PairingsAborted int64 `json:"pairings_aborted"`

	MessagesRelayed       int64 `json:"messages_relayed"`
	MessagesDropped       int64 `json:"messages_dropped"`
	TranslationsDelivered int64 `json:"translations_delivered"`
	TranslationsFailed    int64 `json:"translations_failed"`
	TranslationsDiscarded int64 `json:"translations_discarded"`
	TranslationsSkipped   int64 `json:"translations_skipped"`

	ProtocolErrors int64 `json:"protocol_errors"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:                uptime.Truncate(time.Second).String(),
		UptimeSeconds:         int64(uptime.Seconds()),
		ActiveConnections:     m.ActiveConnections.Load(),
		TotalConnections:      m.TotalConnections.Load(),
		TotalDisconnects:      m.TotalDisconnects.Load(),
		RejectedOrigins:       m.RejectedOrigins.Load(),
		FramesDropped:         m.FramesDropped.Load(),
		QueueJoins:            m.QueueJoins.Load(),
		QueueLeaves:           m.QueueLeaves.Load(),
		RoomsCreated:          m.RoomsCreated.Load(),
		RoomsDestroyed:        m.RoomsDestroyed.Load(),
		PairingsAborted:       m.PairingsAborted.Load(),
		MessagesRelayed:       m.MessagesRelayed.Load(),
		MessagesDropped:       m.MessagesDropped.Load(),
		TranslationsDelivered: m.TranslationsDelivered.Load(),
		TranslationsFailed:    m.TranslationsFailed.Load(),
		TranslationsDiscarded: m.TranslationsDiscarded.Load(),
		TranslationsSkipped:   m.TranslationsSkipped.Load(),
		ProtocolErrors:        m.ProtocolErrors.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary line to log.
func (m *Metrics) LogSummary(log *slog.Logger) {
	s := m.Snapshot()
	log.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"rooms_created", s.RoomsCreated,
		"pairings_aborted", s.PairingsAborted,
		"msgs_relayed", s.MessagesRelayed,
		"translations", s.TranslationsDelivered,
		"translation_failures", s.TranslationsFailed,
	)
}

// StartPeriodicLog logs a summary every interval until done is closed.
func (m *Metrics) StartPeriodicLog(log *slog.Logger, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary(log)
			}
		}
	}()
}
