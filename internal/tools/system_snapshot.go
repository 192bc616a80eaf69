package tools

import (
	"context"
	"os"
	"runtime"
	"time"
)

// SystemSnapshotTool reports the host platform and the relay process's resource usage.
type SystemSnapshotTool struct {
	started time.Time
	now     func() time.Time
}

// NewSystemSnapshotTool creates the tool; uptime is measured from this call.
func NewSystemSnapshotTool() *SystemSnapshotTool {
	return &SystemSnapshotTool{started: time.Now(), now: time.Now}
}

func (t *SystemSnapshotTool) Name() string { return "system_snapshot" }

func (t *SystemSnapshotTool) Description() string {
	return "Report the host platform, CPU count and the relay process's memory and goroutine usage."
}

func (t *SystemSnapshotTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *SystemSnapshotTool) Execute(ctx context.Context, params map[string]any) Result {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return Result{
		"platform":   runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc":       ms.Alloc,
			"total_alloc": ms.TotalAlloc,
			"sys":         ms.Sys,
			"heap_inuse":  ms.HeapInuse,
			"num_gc":      ms.NumGC,
		},
		"uptime_seconds": int64(t.now().Sub(t.started).Seconds()),
		"pid":            os.Getpid(),
		"hostname":       hostname,
	}
}
