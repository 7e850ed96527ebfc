package metrics

import "testing"

func TestCPUPercentFirstSampleUsesPrecpu(t *testing.T) {
	cur := &statsPayload{
		CPUStats: cpuStats{
			CPUUsage:       cpuUsage{TotalUsage: 200},
			SystemCPUUsage: 1000,
			OnlineCPUs:     2,
		},
		PrecpuStats: cpuStats{
			CPUUsage:       cpuUsage{TotalUsage: 100},
			SystemCPUUsage: 900,
		},
	}
	got := cpuPercent(nil, cur)
	want := (100.0 / 100.0) * 2 * 100
	if got != want {
		t.Errorf("cpuPercent = %v, want %v", got, want)
	}
}

func TestCPUPercentZeroDeltaIsZero(t *testing.T) {
	prev := &statsPayload{
		CPUStats: cpuStats{CPUUsage: cpuUsage{TotalUsage: 500}, SystemCPUUsage: 5000, OnlineCPUs: 1},
	}
	cur := &statsPayload{
		CPUStats: cpuStats{CPUUsage: cpuUsage{TotalUsage: 500}, SystemCPUUsage: 5000, OnlineCPUs: 1},
	}
	if got := cpuPercent(prev, cur); got != 0 {
		t.Errorf("cpuPercent = %v, want 0", got)
	}
}

func TestCPUPercentClampedToCPUCount(t *testing.T) {
	prev := &statsPayload{
		CPUStats: cpuStats{CPUUsage: cpuUsage{TotalUsage: 0}, SystemCPUUsage: 0, OnlineCPUs: 2},
	}
	cur := &statsPayload{
		CPUStats: cpuStats{CPUUsage: cpuUsage{TotalUsage: 1000}, SystemCPUUsage: 10, OnlineCPUs: 2},
	}
	got := cpuPercent(prev, cur)
	want := 200.0
	if got != want {
		t.Errorf("cpuPercent = %v, want clamp to %v", got, want)
	}
}

func TestOnlineCPUCountFallsBackToPercpuLength(t *testing.T) {
	s := statsPayload{
		CPUStats: cpuStats{CPUUsage: cpuUsage{PercpuUsage: []uint64{1, 2, 3, 4}}},
	}
	if got := s.onlineCPUCount(); got != 4 {
		t.Errorf("onlineCPUCount = %d, want 4", got)
	}
}

func TestOnlineCPUCountDefaultsToOne(t *testing.T) {
	var s statsPayload
	if got := s.onlineCPUCount(); got != 1 {
		t.Errorf("onlineCPUCount = %d, want 1", got)
	}
}

func TestSummarizeNoSamples(t *testing.T) {
	got := summarize(nil)
	if got.CPUPeak != 0 || got.MemoryPeak != 0 {
		t.Errorf("summarize(nil) = %+v, want zero summary", got)
	}
}

func TestSummarizeSingleSampleNoFiltering(t *testing.T) {
	got := summarize([]Sample{{CPUPercent: 0, MemoryMB: 0}})
	if got.CPUPeak != 0 || got.MemoryPeak != 0 {
		t.Errorf("summarize single zero sample = %+v, want zero summary", got)
	}
}

func TestSummarizeFiltersZeroesWhenAtLeastTwoSamples(t *testing.T) {
	samples := []Sample{
		{CPUPercent: 0, MemoryMB: 0},
		{CPUPercent: 45.5, MemoryMB: 128},
		{CPUPercent: 12.0, MemoryMB: 64},
	}
	got := summarize(samples)
	if got.CPUPeak != 45.5 {
		t.Errorf("CPUPeak = %v, want 45.5", got.CPUPeak)
	}
	if got.MemoryPeak != 128 {
		t.Errorf("MemoryPeak = %v, want 128", got.MemoryPeak)
	}
}

func TestSummarizeFallsBackToUnfilteredWhenAllZero(t *testing.T) {
	samples := []Sample{
		{CPUPercent: 0, MemoryMB: 0},
		{CPUPercent: 0, MemoryMB: 0},
	}
	got := summarize(samples)
	if got.CPUPeak != 0 || got.MemoryPeak != 0 {
		t.Errorf("summarize all-zero samples = %+v, want zero summary", got)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s := NewSampler(nil, "deadbeef", 0)
	s.Stop()
}
