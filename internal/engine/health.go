package engine

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot is a point-in-time read of host resource usage,
// reported alongside playback status so an operator can tell a stutter
// caused by host contention apart from one caused by a failed output.
type ResourceSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
}

// sampleResources reads instantaneous CPU/memory usage; errors from
// either gopsutil call leave that field zeroed rather than failing the
// whole snapshot, since a health check should degrade, not crash.
func sampleResources() ResourceSnapshot {
	var snap ResourceSnapshot
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	return snap
}

// HealthStatus summarizes one Engine's playback state plus host
// resource pressure, the shape a status endpoint or CLI would print.
type HealthStatus struct {
	State        string
	CurrentSong  string
	ErrorType    string
	OutputsOpen  int
	OutputsTotal int
	Resources    ResourceSnapshot
}
