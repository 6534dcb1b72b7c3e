// Package sysmon samples this process's own resource usage on an interval,
// feeds the netfr_process_* gauges, and detects a cgroup memory ceiling.
package sysmon

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/netfr-go/netfr/internal/logging"
	"github.com/netfr-go/netfr/internal/metrics"
)

// DefaultInterval is the memory-monitor sampling cadence.
const DefaultInterval = 30 * time.Second

// softCeilingPercent is the RSS-to-cgroup-limit ratio above which Run logs
// a warning.
const softCeilingPercent = 80.0

// Sampler periodically records this process's RSS and CPU usage.
type Sampler struct {
	log      zerolog.Logger
	interval time.Duration
	proc     *process.Process
	limitB   int64 // cgroup memory limit in bytes, 0 if undetected
}

// New builds a Sampler for the current process.
func New(logger zerolog.Logger) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	limit, _ := cgroupMemoryLimit()
	return &Sampler{log: logger, interval: DefaultInterval, proc: proc, limitB: limit}, nil
}

// Run samples on each tick until ctx is canceled.
func (s *Sampler) Run(ctx context.Context) {
	defer logging.RecoverPanic(s.log, "sysmon.Run")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	if memInfo, err := s.proc.MemoryInfo(); err == nil {
		metrics.ProcessRSSBytes.Set(float64(memInfo.RSS))
		if s.limitB > 0 {
			pct := float64(memInfo.RSS) / float64(s.limitB) * 100
			if pct > softCeilingPercent {
				s.log.Warn().
					Float64("rss_bytes", float64(memInfo.RSS)).
					Int64("limit_bytes", s.limitB).
					Float64("percent", pct).
					Msg("process RSS above soft ceiling")
			}
		}
	}
	if pct, err := s.proc.CPUPercent(); err == nil {
		metrics.ProcessCPUPercent.Set(pct)
	}
}

// cgroupMemoryLimit reads the container memory limit from cgroup v2 first,
// falling back to cgroup v1. Returns 0 when no limit is detectable
// (bare metal, VMs, unconstrained containers).
func cgroupMemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
		return 0, nil
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}
	return 0, nil
}
