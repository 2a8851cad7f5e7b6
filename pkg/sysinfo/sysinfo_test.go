package sysinfo

import (
	"testing"
)

func TestCPUCores(t *testing.T) {
	if n := CPUCores(); n < 1 {
		t.Errorf("expected at least one core, got %d", n)
	}
}

func TestCollect(t *testing.T) {
	info := Collect(0)
	if info.CPUCores != CPUCores() {
		t.Errorf("expected %d cores, got %d", CPUCores(), info.CPUCores)
	}
	if info.MemoryAvailable > info.MemoryTotal {
		t.Errorf("available memory %d exceeds total %d", info.MemoryAvailable, info.MemoryTotal)
	}
}
