package resource

// #region imports
import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// #endregion

// #region constants

const defaultSampleInterval = 5 * time.Second

// #endregion

// #region monitor-struct

// Monitor samples host CPU and memory on a fixed interval and caches the
// last complete snapshot. It is the single writer of the snapshot; any
// number of goroutines may read it concurrently. Sampling errors keep the
// previous snapshot and log a warning; the monitor itself never fails.
type Monitor struct {
	interval time.Duration

	mu       sync.RWMutex
	snapshot Metrics
	prev     *cpu.TimesStat

	stop chan struct{}
	done chan struct{}

	// Injectable for testing without touching the host.
	cpuTimes      func(percpu bool) ([]cpu.TimesStat, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
	netCounters   func(pernic bool) ([]gopsnet.IOCountersStat, error)
}

// NewMonitor creates a monitor sampling every interval (default 5s for
// interval <= 0). Call Start to begin sampling.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Monitor{
		interval:      interval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		cpuTimes:      cpu.Times,
		virtualMemory: mem.VirtualMemory,
		diskUsage:     disk.Usage,
		netCounters:   gopsnet.IOCounters,
	}
}

// #endregion

// #region lifecycle

// Start primes the first sample synchronously, then samples on the interval
// until Stop is called.
func (m *Monitor) Start() {
	m.sample()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// #endregion

// #region snapshot

// Snapshot returns the most recent complete sample. Non-blocking; two calls
// within one interval return identical values.
func (m *Monitor) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// #endregion

// #region availability

// CheckAvailability reports whether work may start under the given limits.
// Returns a *ConstraintError naming the exhausted resource, nil when clear.
func (m *Monitor) CheckAvailability(limits Limits) error {
	snap := m.Snapshot()
	if limits.MaxCPUPercent > 0 && snap.CPUUsage > limits.MaxCPUPercent {
		return &ConstraintError{Reason: fmt.Sprintf(
			"cpu %.1f%% exceeds limit %.1f%%", snap.CPUUsage, limits.MaxCPUPercent)}
	}
	if limits.MaxMemoryMB > 0 && snap.MemoryUsedMB > limits.MaxMemoryMB {
		return &ConstraintError{Reason: fmt.Sprintf(
			"memory %.0fMB exceeds limit %.0fMB", snap.MemoryUsedMB, limits.MaxMemoryMB)}
	}
	return nil
}

// #endregion

// #region sampling

// sample refreshes the cached snapshot. On any collector error the previous
// snapshot is retained.
func (m *Monitor) sample() {
	times, err := m.cpuTimes(false)
	if err != nil || len(times) == 0 {
		log.Printf("[RESOURCE] cpu sample failed, keeping previous snapshot: %v", err)
		return
	}
	vm, err := m.virtualMemory()
	if err != nil {
		log.Printf("[RESOURCE] memory sample failed, keeping previous snapshot: %v", err)
		return
	}

	next := Metrics{
		MemoryUsage:  vm.UsedPercent,
		MemoryUsedMB: float64(vm.Used) / (1024 * 1024),
		SampledAt:    time.Now(),
	}

	// Disk and network are informational; their failure degrades the fields
	// to zero rather than discarding the whole sample.
	if du, err := m.diskUsage("/"); err == nil {
		next.DiskUsage = du.UsedPercent
	}
	if counters, err := m.netCounters(false); err == nil && len(counters) > 0 {
		next.NetworkIOMB = float64(counters[0].BytesSent+counters[0].BytesRecv) / (1024 * 1024)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// CPU usage is the idle/total tick delta since the previous sample. The
	// priming sample has no delta and reports whatever was cached (zero at
	// startup).
	agg := times[0]
	if m.prev != nil {
		next.CPUUsage = cpuPercent(*m.prev, agg)
	} else {
		next.CPUUsage = m.snapshot.CPUUsage
	}
	m.prev = &agg
	m.snapshot = next
}

// cpuPercent converts two aggregate tick counters into a busy percentage.
func cpuPercent(prev, curr cpu.TimesStat) float64 {
	totalDelta := totalTicks(curr) - totalTicks(prev)
	idleDelta := curr.Idle - prev.Idle
	if totalDelta <= 0 {
		return 0
	}
	pct := 100 * (1 - idleDelta/totalDelta)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func totalTicks(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

// #endregion
