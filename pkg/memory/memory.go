package memory

import (
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"batchrun/pkg/logger"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Unknown is returned when usage cannot be sampled
const Unknown = -1.0

const bytesPerMB = 1024 * 1024

// Monitor samples the current memory usage of the process in megabytes.
// Implementations never fail; they return Unknown instead.
type Monitor interface {
	CurrentUsageMB() float64
}

// Func adapts a plain function to Monitor
type Func func() float64

// CurrentUsageMB calls f
func (f Func) CurrentUsageMB() float64 {
	return f()
}

// OverLimit reports whether usage exceeds limit. Unknown usage and a
// disabled limit (<= 0) are never over.
func OverLimit(usageMB, limitMB float64) bool {
	if limitMB <= 0 || usageMB < 0 {
		return false
	}
	return usageMB > limitMB
}

// Usage is a detailed sample of process and system memory
type Usage struct {
	RSSMB          float64 `json:"rss_mb"`
	VMSMB          float64 `json:"vms_mb"`
	ProcessPercent float64 `json:"process_percent"`
	SystemUsedPct  float64 `json:"system_used_percent"`
	AvailableMB    float64 `json:"available_mb"`
}

// ProcessMonitor reports the resident set size of the current process
type ProcessMonitor struct {
	logger logger.Logger

	once sync.Once
	proc *process.Process
	err  error
}

// NewProcessMonitor returns a monitor for the running process
func NewProcessMonitor(log logger.Logger) *ProcessMonitor {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ProcessMonitor{logger: log}
}

func (m *ProcessMonitor) handle() (*process.Process, error) {
	m.once.Do(func() {
		m.proc, m.err = process.NewProcess(int32(os.Getpid()))
	})
	return m.proc, m.err
}

// CurrentUsageMB returns the RSS in megabytes, or Unknown
func (m *ProcessMonitor) CurrentUsageMB() float64 {
	proc, err := m.handle()
	if err != nil {
		m.logger.WithError(err).Debug("Cannot open process for memory sampling")
		return Unknown
	}

	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		if err != nil {
			m.logger.WithError(err).Debug("Memory sample failed")
		}
		return Unknown
	}
	return float64(info.RSS) / bytesPerMB
}

// Usage returns a detailed sample. Fields that cannot be read are left at
// Unknown.
func (m *ProcessMonitor) Usage() Usage {
	u := Usage{
		RSSMB:          Unknown,
		VMSMB:          Unknown,
		ProcessPercent: Unknown,
		SystemUsedPct:  Unknown,
		AvailableMB:    Unknown,
	}

	if proc, err := m.handle(); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			u.RSSMB = float64(info.RSS) / bytesPerMB
			u.VMSMB = float64(info.VMS) / bytesPerMB
		}
		if pct, err := proc.MemoryPercent(); err == nil {
			u.ProcessPercent = float64(pct)
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		u.SystemUsedPct = vm.UsedPercent
		u.AvailableMB = float64(vm.Available) / bytesPerMB
	}

	return u
}

// RuntimeMonitor reports memory obtained from the OS by the Go runtime.
// It works everywhere but ignores memory held outside the Go heap.
type RuntimeMonitor struct{}

// CurrentUsageMB returns runtime.MemStats.Sys in megabytes
func (RuntimeMonitor) CurrentUsageMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Sys) / bytesPerMB
}

// Default returns a ProcessMonitor when the process can be sampled, and a
// RuntimeMonitor otherwise
func Default(log logger.Logger) Monitor {
	pm := NewProcessMonitor(log)
	if pm.CurrentUsageMB() == Unknown {
		return RuntimeMonitor{}
	}
	return pm
}

// Release forces a garbage collection and returns freed memory to the OS
func Release() {
	runtime.GC()
	debug.FreeOSMemory()
}
