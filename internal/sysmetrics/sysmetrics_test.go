package sysmetrics

import (
	"context"
	"testing"
)

func TestCollect(t *testing.T) {
	snap, err := Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
	if snap.NumCPU < 1 {
		t.Fatalf("num_cpu = %d", snap.NumCPU)
	}
	if snap.MemoryTotalMB == 0 {
		t.Fatal("memory total not read")
	}
	if snap.MemoryPercent < 0 || snap.MemoryPercent > 100 {
		t.Fatalf("memory percent out of range: %v", snap.MemoryPercent)
	}
	if snap.Goroutines < 1 {
		t.Fatalf("goroutines = %d", snap.Goroutines)
	}
}
