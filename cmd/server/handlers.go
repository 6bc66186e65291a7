package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"splogs.io/internal/persistence/indexdb"
	"splogs.io/internal/sim/simworld"
	"splogs.io/internal/telemetry/scanner"
	"splogs.io/internal/transport/observer"
)

// serverRuntime holds what the HTTP surface reads. Every field except
// scanner may be nil.
type serverRuntime struct {
	scanner  observer.StatsSource
	world    *simworld.World
	idx      indexdb.Index
	mirror   *r2MirrorRuntime
	archiver *periodArchiver
	hub      *observer.Hub
	env      serverEnv
	log      *log.Logger
}

func (rt *serverRuntime) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if rt.hub != nil {
		obsSrv := observer.NewServer(rt.hub, rt.scanner, rt.log)
		mux.HandleFunc("/v1/feed", obsSrv.WSHandler())
		mux.HandleFunc("/v1/feed/bootstrap", obsSrv.BootstrapHandler())
	}

	if rt.env.adminHTTPEnabled() {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", rt.handleState)
		mux.HandleFunc("/admin/v1/passes", rt.handlePasses)
		mux.HandleFunc("/admin/v1/periods", rt.handlePeriods)
	} else {
		rt.printf("admin endpoints disabled (SP_ENABLE_ADMIN_HTTP=false)")
	}
	if rt.env.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

type stateResponse struct {
	World      string           `json:"world"`
	WorldSize  float64          `json:"world_size"`
	Running    bool             `json:"running"`
	Period     string           `json:"period"`
	TS         string           `json:"ts"`
	PassID     string           `json:"pass_id"`
	FrameCount uint64           `json:"frame_count"`
	CellsDone  int              `json:"cells_done"`
	CellsTotal int              `json:"cells_total"`
	Written    int              `json:"written"`
	CacheSize  int              `json:"cache_size"`
	LastPass   *indexdb.PassRow `json:"last_pass,omitempty"`
	Entities   map[string]int   `json:"entities,omitempty"`
	Index      *indexdb.Stats   `json:"index,omitempty"`
}

func (rt *serverRuntime) handleState(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	st := rt.scanner.Stats()
	resp := stateResponse{
		World:      st.World,
		WorldSize:  st.WorldSize,
		Running:    st.Running,
		Period:     st.Period,
		TS:         st.TS,
		PassID:     st.PassID,
		FrameCount: st.FrameCount,
		CellsDone:  st.CellsDone,
		CellsTotal: st.CellsTotal,
		Written:    st.Written,
		CacheSize:  st.CacheSize,
	}
	if st.LastPass != nil {
		row := indexdb.NewPassRow(*st.LastPass)
		resp.LastPass = &row
	}
	if rt.world != nil {
		resp.Entities = map[string]int{}
		for k, n := range rt.world.Counts() {
			resp.Entities[k.String()] = n
		}
	}
	if rt.idx != nil {
		is := rt.idx.Stats()
		resp.Index = &is
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (rt *serverRuntime) handlePasses(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	lister, ok := rt.idx.(indexdb.PassLister)
	if !ok {
		http.Error(rw, "pass history needs SP_INDEX_BACKEND=sqlite", http.StatusNotImplemented)
		return
	}
	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows, err := lister.RecentPasses(ctx, limit)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if rows == nil {
		rows = []indexdb.PassRow{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"passes": rows})
}

func (rt *serverRuntime) handlePeriods(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	lister, ok := rt.idx.(indexdb.PassLister)
	if !ok {
		http.Error(rw, "period history needs SP_INDEX_BACKEND=sqlite", http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows, err := lister.Periods(ctx)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if rows == nil {
		rows = []indexdb.PeriodRow{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"periods": rows})
}

func (rt *serverRuntime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	st := rt.scanner.Stats()
	world := st.World

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP splogs_scanner_running Whether a pass is in progress.\n")
	fmt.Fprintf(rw, "# TYPE splogs_scanner_running gauge\n")
	fmt.Fprintf(rw, "splogs_scanner_running{world=%q} %d\n", world, boolGauge(st.Running))

	fmt.Fprintf(rw, "# HELP splogs_scanner_frames_total Completed passes since start.\n")
	fmt.Fprintf(rw, "# TYPE splogs_scanner_frames_total counter\n")
	fmt.Fprintf(rw, "splogs_scanner_frames_total{world=%q} %d\n", world, st.FrameCount)

	fmt.Fprintf(rw, "# HELP splogs_scanner_cells Grid cells of the current pass.\n")
	fmt.Fprintf(rw, "# TYPE splogs_scanner_cells gauge\n")
	fmt.Fprintf(rw, "splogs_scanner_cells{world=%q,state=%q} %d\n", world, "done", st.CellsDone)
	fmt.Fprintf(rw, "splogs_scanner_cells{world=%q,state=%q} %d\n", world, "total", st.CellsTotal)

	fmt.Fprintf(rw, "# HELP splogs_scanner_cache_items Items held in the state cache.\n")
	fmt.Fprintf(rw, "# TYPE splogs_scanner_cache_items gauge\n")
	fmt.Fprintf(rw, "splogs_scanner_cache_items{world=%q} %d\n", world, st.CacheSize)

	if lp := st.LastPass; lp != nil {
		fmt.Fprintf(rw, "# HELP splogs_last_pass Records and timing of the last finished pass.\n")
		fmt.Fprintf(rw, "# TYPE splogs_last_pass gauge\n")
		fmt.Fprintf(rw, "splogs_last_pass{world=%q,metric=%q} %d\n", world, "written", lp.Written)
		fmt.Fprintf(rw, "splogs_last_pass{world=%q,metric=%q} %d\n", world, "removed", lp.Removed)
		fmt.Fprintf(rw, "splogs_last_pass{world=%q,metric=%q} %d\n", world, "snapshot_items", lp.SnapshotItems)
		fmt.Fprintf(rw, "splogs_last_pass{world=%q,metric=%q} %d\n", world, "log_lines", lp.LogLines)
		fmt.Fprintf(rw, "splogs_last_pass{world=%q,metric=%q} %d\n", world, "duration_ms", lp.FinishedAt.Sub(lp.StartedAt).Milliseconds())
		fmt.Fprintf(rw, "splogs_last_pass{world=%q,metric=%q} %d\n", world, "finished_unix", lp.FinishedAt.Unix())
	}

	if rt.world != nil {
		counts := rt.world.Counts()
		fmt.Fprintf(rw, "# HELP splogs_world_entities Simulated world entities by kind.\n")
		fmt.Fprintf(rw, "# TYPE splogs_world_entities gauge\n")
		for _, k := range []simworld.Kind{simworld.KindItem, simworld.KindContainer, simworld.KindPlayer} {
			fmt.Fprintf(rw, "splogs_world_entities{world=%q,kind=%q} %d\n", world, k.String(), counts[k])
		}
	}

	if rt.hub != nil {
		hs := rt.hub.Stats()
		fmt.Fprintf(rw, "# HELP splogs_feed_subscribers Connected live feed subscribers.\n")
		fmt.Fprintf(rw, "# TYPE splogs_feed_subscribers gauge\n")
		fmt.Fprintf(rw, "splogs_feed_subscribers %d\n", hs.Subscribers)
		fmt.Fprintf(rw, "# HELP splogs_feed_published_total Records published to the live feed.\n")
		fmt.Fprintf(rw, "# TYPE splogs_feed_published_total counter\n")
		fmt.Fprintf(rw, "splogs_feed_published_total %d\n", hs.PublishedTotal)
		fmt.Fprintf(rw, "# HELP splogs_feed_dropped_total Records dropped for slow feed subscribers.\n")
		fmt.Fprintf(rw, "# TYPE splogs_feed_dropped_total counter\n")
		fmt.Fprintf(rw, "splogs_feed_dropped_total %d\n", hs.DroppedTotal)
	}

	if rt.idx != nil {
		is := rt.idx.Stats()
		fmt.Fprintf(rw, "# HELP splogs_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE splogs_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "splogs_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "# HELP splogs_index_dropped_total Index rows dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE splogs_index_dropped_total counter\n")
		fmt.Fprintf(rw, "splogs_index_dropped_total{kind=%q} %d\n", "pass", is.DropPassTotal)
		fmt.Fprintf(rw, "splogs_index_dropped_total{kind=%q} %d\n", "period", is.DropPeriodTotal)
		fmt.Fprintf(rw, "splogs_index_dropped_total{kind=%q} %d\n", "pending", is.QueueDroppedTotal)
		fmt.Fprintf(rw, "# HELP splogs_index_flush_fail_total Failed remote index flushes.\n")
		fmt.Fprintf(rw, "# TYPE splogs_index_flush_fail_total counter\n")
		fmt.Fprintf(rw, "splogs_index_flush_fail_total %d\n", is.FlushFailTotal)
	}

	if rt.archiver != nil {
		as := rt.archiver.Stats()
		fmt.Fprintf(rw, "# HELP splogs_archive_periods_total Closed periods by archive outcome.\n")
		fmt.Fprintf(rw, "# TYPE splogs_archive_periods_total counter\n")
		fmt.Fprintf(rw, "splogs_archive_periods_total{result=%q} %d\n", "ok", as.ArchivedTotal)
		fmt.Fprintf(rw, "splogs_archive_periods_total{result=%q} %d\n", "error", as.FailedTotal)
		fmt.Fprintf(rw, "splogs_archive_periods_total{result=%q} %d\n", "dropped", as.DroppedTotal)
	}

	writeR2MirrorMetrics(rw, rt.mirror)
}

func writeR2MirrorMetrics(rw http.ResponseWriter, mirror *r2MirrorRuntime) {
	s, ok := mirror.Stats()
	if !ok {
		return
	}
	fmt.Fprintf(rw, "# HELP splogs_r2_mirror_queue_depth Current R2 mirror queue depth.\n")
	fmt.Fprintf(rw, "# TYPE splogs_r2_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "splogs_r2_mirror_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP splogs_r2_mirror_queue_capacity R2 mirror queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE splogs_r2_mirror_queue_capacity gauge\n")
	fmt.Fprintf(rw, "splogs_r2_mirror_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP splogs_r2_mirror_enqueued_total Total mirror enqueue attempts.\n")
	fmt.Fprintf(rw, "# TYPE splogs_r2_mirror_enqueued_total counter\n")
	fmt.Fprintf(rw, "splogs_r2_mirror_enqueued_total %d\n", s.EnqueuedTotal)

	fmt.Fprintf(rw, "# HELP splogs_r2_mirror_dropped_total Files dropped because the queue stayed saturated.\n")
	fmt.Fprintf(rw, "# TYPE splogs_r2_mirror_dropped_total counter\n")
	fmt.Fprintf(rw, "splogs_r2_mirror_dropped_total %d\n", s.DroppedTotal)

	fmt.Fprintf(rw, "# HELP splogs_r2_mirror_uploads_total Finished mirror uploads by result.\n")
	fmt.Fprintf(rw, "# TYPE splogs_r2_mirror_uploads_total counter\n")
	fmt.Fprintf(rw, "splogs_r2_mirror_uploads_total{result=%q} %d\n", "ok", s.UploadSuccessTotal)
	fmt.Fprintf(rw, "splogs_r2_mirror_uploads_total{result=%q} %d\n", "error", s.UploadFailTotal)
	fmt.Fprintf(rw, "splogs_r2_mirror_uploads_total{result=%q} %d\n", "unchanged", s.SkippedTotal)

	fmt.Fprintf(rw, "# HELP splogs_r2_mirror_last_success_unix Unix time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE splogs_r2_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "splogs_r2_mirror_last_success_unix %d\n", s.LastSuccessUnix)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (rt *serverRuntime) printf(format string, args ...any) {
	if rt.log != nil {
		rt.log.Printf(format, args...)
	}
}

var _ observer.StatsSource = (*scanner.Scanner)(nil)
