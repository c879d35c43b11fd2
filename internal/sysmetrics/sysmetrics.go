// Package sysmetrics captures a point-in-time snapshot of host resource
// usage for diagnostics bundles.
package sysmetrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one host resource reading.
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Hostname      string    `json:"hostname"`
	Uptime        uint64    `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	NumCPU        int       `json:"num_cpu"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  uint64    `json:"memory_used_mb"`
	MemoryTotalMB uint64    `json:"memory_total_mb"`
	DiskPercent   float64   `json:"disk_percent"`
	DiskFreeGB    uint64    `json:"disk_free_gb"`
	Goroutines    int       `json:"goroutines"`
}

// Collect samples CPU, memory and disk usage. The CPU reading averages
// over a short interval, so this call blocks briefly.
func Collect(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.Uptime = info.Uptime
	}

	percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return snap, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("memory usage: %w", err)
	}
	snap.MemoryPercent = vm.UsedPercent
	snap.MemoryUsedMB = vm.Used / 1024 / 1024
	snap.MemoryTotalMB = vm.Total / 1024 / 1024

	usage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return snap, fmt.Errorf("disk usage: %w", err)
	}
	snap.DiskPercent = usage.UsedPercent
	snap.DiskFreeGB = usage.Free / 1024 / 1024 / 1024

	return snap, nil
}
