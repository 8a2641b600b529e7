// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resmon

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// systemSampler reads system-wide usage from /proc on Linux, falling
// back to Go runtime statistics elsewhere.
//
// CPU utilization is computed from the delta between consecutive
// /proc/stat reads, so the first sample after start reports 0.
//
// Thread Safety: Safe for concurrent use.
type systemSampler struct {
	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// newSystemSampler creates the default platform sampler.
func newSystemSampler() *systemSampler {
	return &systemSampler{}
}

// Sample produces one resource sample.
func (s *systemSampler) Sample() (Sample, error) {
	sample := Sample{Timestamp: time.Now()}

	if mem, ok := readMemInfoMB(); ok {
		sample.MemoryMB = mem
	} else {
		// Fallback: process heap only.
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		sample.MemoryMB = float64(ms.Alloc) / (1024 * 1024)
	}

	s.mu.Lock()
	sample.CPUPercent = s.cpuPercentLocked()
	s.mu.Unlock()

	return sample, nil
}

// cpuPercentLocked computes CPU utilization from /proc/stat deltas.
// Returns 0 when /proc/stat is unavailable or on the first read.
func (s *systemSampler) cpuPercentLocked() float64 {
	idle, total, ok := readProcStat()
	if !ok {
		return 0
	}

	defer func() {
		s.prevIdle = idle
		s.prevTotal = total
	}()

	if s.prevTotal == 0 || total <= s.prevTotal {
		return 0
	}

	totalDelta := float64(total - s.prevTotal)
	idleDelta := float64(idle - s.prevIdle)
	busy := (totalDelta - idleDelta) / totalDelta * 100
	if busy < 0 {
		busy = 0
	}
	if busy > 100 {
		busy = 100
	}
	return busy
}

// readMemInfoMB returns used system memory (MemTotal - MemAvailable)
// in megabytes from /proc/meminfo.
func readMemInfoMB() (float64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	var totalKB, availKB uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseMemInfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availKB = parseMemInfoKB(line)
		}
		if totalKB > 0 && availKB > 0 {
			break
		}
	}

	if totalKB == 0 || availKB == 0 || availKB > totalKB {
		return 0, false
	}
	return float64(totalKB-availKB) / 1024, true
}

// parseMemInfoKB extracts the kB value from a /proc/meminfo line.
func parseMemInfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// readProcStat returns aggregate idle and total jiffies from the first
// line of /proc/stat.
func readProcStat() (idle, total uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}

	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}

	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		total += v
		// Fields: user nice system idle iowait ...
		if i == 3 || i == 4 {
			idle += v
		}
	}
	return idle, total, true
}
