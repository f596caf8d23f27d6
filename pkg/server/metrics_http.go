package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/NicolasHaas/parley/pkg/translate"
	"github.com/NicolasHaas/parley/pkg/version"
)

// statsReporter is implemented by translators that count their calls.
type statsReporter interface {
	Stats() translate.Stats
}

// processSampler reads this process's resource usage.
type processSampler struct {
	once sync.Once
	proc *process.Process
	err  error
}

func (p *processSampler) sample() (rss uint64, cpu float64, err error) {
	p.once.Do(func() {
		p.proc, p.err = process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	})
	if p.err != nil {
		return 0, 0, p.err
	}
	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpu, err = p.proc.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return mem.RSS, cpu, nil
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()
	st := s.coord.Stats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("parley_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("parley_connections_active", "Currently registered websocket connections.", "gauge",
		m.ActiveConnections.Load())
	write("parley_connections_total", "Lifetime websocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("parley_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())
	write("parley_rejected_origins_total", "Upgrades refused by the origin allow-list.", "counter",
		m.RejectedOrigins.Load())
	write("parley_frames_dropped_total", "Outbound frames a client could not accept.", "counter",
		m.FramesDropped.Load())

	write("parley_queue_size", "Users waiting for a partner.", "gauge", int64(st.Queued))
	write("parley_rooms_active", "Live two-party rooms.", "gauge", int64(st.Rooms))
	write("parley_queue_joins_total", "join-queue requests accepted.", "counter",
		m.QueueJoins.Load())
	write("parley_queue_leaves_total", "leave-queue requests accepted.", "counter",
		m.QueueLeaves.Load())
	write("parley_rooms_created_total", "Rooms created.", "counter",
		m.RoomsCreated.Load())
	write("parley_rooms_destroyed_total", "Rooms destroyed.", "counter",
		m.RoomsDestroyed.Load())
	write("parley_pairings_aborted_total", "Pairings aborted because a connection was gone.", "counter",
		m.PairingsAborted.Load())

	write("parley_messages_relayed_total", "Raw messages delivered to a partner.", "counter",
		m.MessagesRelayed.Load())
	write("parley_messages_dropped_total", "Messages for unknown rooms or non-occupants.", "counter",
		m.MessagesDropped.Load())
	write("parley_translations_inflight", "Messages currently being translated.", "gauge",
		st.Translating)
	write("parley_translations_delivered_total", "Translated events delivered.", "counter",
		m.TranslationsDelivered.Load())
	write("parley_translations_failed_total", "Translated events withheld after a gateway failure.", "counter",
		m.TranslationsFailed.Load())
	write("parley_translations_discarded_total", "Translations that arrived after the room closed.", "counter",
		m.TranslationsDiscarded.Load())
	write("parley_translations_skipped_total", "Messages already written in the target language.", "counter",
		m.TranslationsSkipped.Load())
	write("parley_protocol_errors_total", "Error events sent to clients.", "counter",
		m.ProtocolErrors.Load())

	if sr, ok := s.translator.(statsReporter); ok {
		gs := sr.Stats()
		write("parley_gateway_requests_total", "Calls made to the translation service.", "counter", gs.Requests)
		write("parley_gateway_failures_total", "Failed calls to the translation service.", "counter", gs.Failures)
		write("parley_gateway_cache_hits_total", "Translations served from the cache.", "counter", gs.CacheHits)
	}
	if s.cache != nil {
		if n, err := s.cache.Count(r.Context()); err == nil {
			write("parley_cache_entries", "Cached translations.", "gauge", n)
		}
	}
	if rss, cpu, err := s.proc.sample(); err == nil {
		write("parley_process_resident_memory_bytes", "Resident set size of the server process.", "gauge", int64(rss)) //nolint:gosec // RSS fits in int64
		writeFloat("parley_process_cpu_percent", "CPU usage of the server process.", "gauge", cpu)
	}
}

type healthResponse struct {
	Status  string           `json:"status"`
	Build   version.Info     `json:"build"`
	Uptime  string           `json:"uptime"`
	Session CoordinatorStats `json:"session"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Build:   version.Get(),
		Uptime:  time.Since(s.metrics.startTime).Truncate(time.Second).String(),
		Session: s.coord.Stats(),
	}
	if s.isClosing() {
		resp.Status = "shutting_down"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
