package server

import (
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is the host context shown next to the disk inventory.
type SystemInfo struct {
	Hostname    string  `json:"hostname"`
	Uptime      uint64  `json:"uptime"`
	Kernel      string  `json:"kernel"`
	Platform    string  `json:"platform"`
	Arch        string  `json:"arch,omitempty"`
	CPUCount    int     `json:"cpuCount,omitempty"`
	MemoryTotal uint64  `json:"memoryTotal,omitempty"`
	MemoryUsed  uint64  `json:"memoryUsed,omitempty"`
	RootUsedPct float64 `json:"rootUsedPct,omitempty"`
	Version     string  `json:"version"`
}

// GET /api/v1/system
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	info := SystemInfo{Arch: runtime.GOARCH, Version: version}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hi, err := host.Info(); err == nil {
		info.Uptime = hi.Uptime
		info.Kernel = hi.KernelVersion
		info.Platform = hi.Platform + " " + hi.PlatformVersion
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCount = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
	}
	if du, err := disk.Usage("/"); err == nil {
		info.RootUsedPct = du.UsedPercent
	}
	writeJSON(w, info)
}
