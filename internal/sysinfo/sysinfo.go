// Package sysinfo inspects the host to size runtime defaults.
package sysinfo

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultExecutionContexts returns a sensible worker count for the
// scheduler: the number of physical cores when the host reports them,
// otherwise GOMAXPROCS.
func DefaultExecutionContexts(ctx context.Context) int {
	count, err := cpu.CountsWithContext(ctx, false)
	if err != nil || count < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return count
}

// HostSnapshot is a point-in-time view of the host used for startup
// logging.
type HostSnapshot struct {
	LogicalCPUs  int     `json:"logical_cpus"`
	PhysicalCPUs int     `json:"physical_cpus"`
	TotalMemory  uint64  `json:"total_memory"`
	UsedPercent  float64 `json:"used_percent"`
}

// Snapshot collects a HostSnapshot. Individual probes that fail leave
// their fields zero rather than failing the whole call.
func Snapshot(ctx context.Context) HostSnapshot {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	snap := HostSnapshot{LogicalCPUs: runtime.GOMAXPROCS(0)}
	if logical, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.LogicalCPUs = logical
	}
	if physical, err := cpu.CountsWithContext(ctx, false); err == nil {
		snap.PhysicalCPUs = physical
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.TotalMemory = vm.Total
		snap.UsedPercent = vm.UsedPercent
	}
	return snap
}
