// Package sysinfo reports host capacity used to size worker pools.
package sysinfo

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info is a point-in-time view of the host
type Info struct {
	CPUCores        int     `json:"cpu_cores"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	MemoryTotal     uint64  `json:"memory_total_bytes"`
	MemoryAvailable uint64  `json:"memory_available_bytes"`
}

// CPUCores returns the number of logical cores, falling back to
// runtime.NumCPU when the host can't be queried.
func CPUCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Collect samples CPU usage over interval and reads memory totals.
// Fields that can't be read are left at zero.
func Collect(interval time.Duration) Info {
	info := Info{CPUCores: CPUCores()}

	if pct, err := cpu.Percent(interval, false); err == nil && len(pct) > 0 {
		info.CPUUsagePercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vmem.Total
		info.MemoryAvailable = vmem.Available
	}
	return info
}
