package resource

import (
	"fmt"
	"time"
)

// #region metrics

// Metrics is a process-wide snapshot of host utilization. Readers always see
// a complete sample, never a torn one.
type Metrics struct {
	CPUUsage     float64   `json:"cpu_usage"`      // percent, aggregate across cores
	MemoryUsage  float64   `json:"memory_usage"`   // percent of total
	MemoryUsedMB float64   `json:"memory_used_mb"` // absolute, for limit checks
	DiskUsage    float64   `json:"disk_usage"`     // percent of the root filesystem
	NetworkIOMB  float64   `json:"network_io_mb"`  // cumulative bytes sent+received
	SampledAt    time.Time `json:"sampled_at"`
}

// #endregion metrics

// #region limits

// Limits are the availability thresholds checked before starting work.
type Limits struct {
	MaxMemoryMB   float64
	MaxCPUPercent float64
}

// #endregion limits

// #region constraint-error

// ConstraintError reports insufficient CPU or memory to start work.
// Recoverable by waiting and retrying.
type ConstraintError struct {
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("resource constraint: %s", e.Reason)
}

// #endregion constraint-error
