// CLAUDE:SUMMARY Daemon liveness — periodic worker_heartbeats rows carrying Go runtime stats.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// RuntimeMetrics is a point-in-time sample of the daemon's Go runtime.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	MemorySysMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics samples the current process. Cheap enough for every
// heartbeat tick.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// HeartbeatWriter reports that a raytv worker (the daemon, or a future
// standalone refresher) is alive by inserting into worker_heartbeats on a
// fixed cadence. Monitoring reads the newest row per worker and compares
// its age against the interval.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	pid        int
	interval   time.Duration
	metrics    *MetricsManager
	stop       chan struct{}
	done       chan struct{}
}

// HeartbeatOption configures a HeartbeatWriter.
type HeartbeatOption func(*HeartbeatWriter)

// WithHeartbeatMetrics mirrors each sample into the metrics timeseries
// (goroutines, allocated memory, GC count) so dashboards can graph process
// health next to call latency.
func WithHeartbeatMetrics(mm *MetricsManager) HeartbeatOption {
	return func(hw *HeartbeatWriter) { hw.metrics = mm }
}

// NewHeartbeatWriter creates a writer for workerName. 15s is a sensible
// interval for the daemon.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, opts ...HeartbeatOption) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	hw := &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		pid:        os.Getpid(),
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(hw)
	}
	return hw
}

// Start launches the heartbeat loop: one beat immediately, then one per
// interval until Stop or ctx cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// WriteHeartbeat inserts a single liveness row with a fresh runtime sample.
func (hw *HeartbeatWriter) WriteHeartbeat() error {
	sample := CollectRuntimeMetrics()
	_, err := hw.db.Exec(`
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.pid, time.Now().Unix(),
		sample.GoroutinesCount, sample.MemoryAllocMB, sample.MemorySysMB, sample.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	if hw.metrics != nil {
		hw.metrics.RecordSimple(MetricGoroutinesCount, float64(sample.GoroutinesCount), "count")
		hw.metrics.RecordSimple(MetricMemoryAllocMB, sample.MemoryAllocMB, "megabytes")
		hw.metrics.RecordSimple(MetricGCCount, float64(sample.GCCount), "count")
	}
	return nil
}

// Stop ends the loop and waits for it to drain.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)

	beat := func() {
		if err := hw.WriteHeartbeat(); err != nil {
			slog.Error("heartbeat write failed", "worker", hw.workerName, "error", err)
		}
	}
	beat()

	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			beat()
		}
	}
}

// HeartbeatStatus is the newest heartbeat for one worker plus a staleness
// verdict, so /api/stats consumers don't recompute it.
type HeartbeatStatus struct {
	WorkerName      string         `json:"worker_name"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	Timestamp       time.Time      `json:"timestamp"`
	GoroutinesCount int            `json:"goroutines_count"`
	MemoryAllocMB   float64        `json:"memory_alloc_mb"`
	MemorySysMB     float64        `json:"memory_sys_mb"`
	GCCount         int            `json:"gc_count"`
	Alive           bool           `json:"alive"`
	StaleSince      *time.Duration `json:"stale_since,omitempty"`
}

// LatestHeartbeat reads the newest row for workerName. A beat older than
// stalenessThreshold (typically 3x the interval) marks the worker stale.
// No row at all returns nil, nil.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, stalenessThreshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, workerName)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.MemorySysMB, &hs.GCCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0)
	if age := time.Since(hs.Timestamp); age > stalenessThreshold {
		stale := age - stalenessThreshold
		hs.StaleSince = &stale
	} else {
		hs.Alive = true
	}
	return &hs, nil
}

// CleanupHeartbeats deletes rows older than retentionDays.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := db.ExecContext(ctx, "DELETE FROM worker_heartbeats WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup heartbeats: %w", err)
	}
	return res.RowsAffected()
}
