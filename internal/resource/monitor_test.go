package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// fakeMonitor returns a monitor wired to canned collectors. ticks is consumed
// one element per sample.
func fakeMonitor(ticks []cpu.TimesStat, vm *mem.VirtualMemoryStat) *Monitor {
	m := NewMonitor(time.Hour) // interval irrelevant, sample() driven manually
	i := 0
	m.cpuTimes = func(bool) ([]cpu.TimesStat, error) {
		if i >= len(ticks) {
			return nil, errors.New("out of ticks")
		}
		t := ticks[i]
		i++
		return []cpu.TimesStat{t}, nil
	}
	m.virtualMemory = func() (*mem.VirtualMemoryStat, error) { return vm, nil }
	m.diskUsage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{UsedPercent: 42}, nil
	}
	m.netCounters = func(bool) ([]gopsnet.IOCountersStat, error) {
		return []gopsnet.IOCountersStat{{BytesSent: 1 << 20, BytesRecv: 1 << 20}}, nil
	}
	return m
}

func TestCPUUsageFromTickDelta(t *testing.T) {
	// 100 total ticks elapsed, 20 of them idle → 80% busy.
	ticks := []cpu.TimesStat{
		{User: 100, System: 50, Idle: 850},
		{User: 160, System: 70, Idle: 870},
	}
	m := fakeMonitor(ticks, &mem.VirtualMemoryStat{UsedPercent: 50, Used: 4 << 30})

	m.sample() // priming sample, no delta yet
	if got := m.Snapshot().CPUUsage; got != 0 {
		t.Fatalf("priming sample should report 0 cpu, got %.2f", got)
	}

	m.sample()
	snap := m.Snapshot()
	if snap.CPUUsage != 80 {
		t.Fatalf("expected 80%% cpu, got %.2f", snap.CPUUsage)
	}
	if snap.MemoryUsage != 50 {
		t.Fatalf("expected 50%% memory, got %.2f", snap.MemoryUsage)
	}
	if snap.DiskUsage != 42 {
		t.Fatalf("expected disk usage carried through, got %.2f", snap.DiskUsage)
	}
}

func TestSampleErrorKeepsPreviousSnapshot(t *testing.T) {
	ticks := []cpu.TimesStat{
		{User: 10, Idle: 90},
		{User: 20, Idle: 90},
	}
	m := fakeMonitor(ticks, &mem.VirtualMemoryStat{UsedPercent: 33, Used: 1 << 30})

	m.sample()
	m.sample()
	before := m.Snapshot()

	m.sample() // collector now errors ("out of ticks")
	after := m.Snapshot()

	if after != before {
		t.Fatalf("snapshot changed after failed sample: %+v vs %+v", after, before)
	}
}

func TestSnapshotIdempotentWithinInterval(t *testing.T) {
	ticks := []cpu.TimesStat{{User: 10, Idle: 90}}
	m := fakeMonitor(ticks, &mem.VirtualMemoryStat{UsedPercent: 10, Used: 1 << 30})
	m.sample()

	a := m.Snapshot()
	b := m.Snapshot()
	if a != b {
		t.Fatalf("two reads within one interval differ: %+v vs %+v", a, b)
	}
}

func TestCheckAvailability(t *testing.T) {
	m := NewMonitor(0)
	m.snapshot = Metrics{CPUUsage: 95, MemoryUsedMB: 1024}

	if err := m.CheckAvailability(Limits{MaxCPUPercent: 90}); err == nil {
		t.Fatal("expected cpu constraint error")
	} else {
		var ce *ConstraintError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *ConstraintError, got %T", err)
		}
	}

	if err := m.CheckAvailability(Limits{MaxMemoryMB: 512}); err == nil {
		t.Fatal("expected memory constraint error")
	}

	m.snapshot = Metrics{CPUUsage: 10, MemoryUsedMB: 100}
	if err := m.CheckAvailability(Limits{MaxCPUPercent: 90, MaxMemoryMB: 512}); err != nil {
		t.Fatalf("expected availability, got %v", err)
	}
}
