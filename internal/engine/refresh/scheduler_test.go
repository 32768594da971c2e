package refresh

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type flag struct {
	dirty atomic.Bool
}

func (f *flag) ConsumeDirty() bool { return f.dirty.CompareAndSwap(true, false) }

type inlinePoster struct {
	mu   sync.Mutex
	jobs int
}

func (p *inlinePoster) Post(job func()) bool {
	p.mu.Lock()
	p.jobs++
	p.mu.Unlock()
	job()
	return true
}

func (p *inlinePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs
}

func TestScheduler_PostsOnlyWhenDirty(t *testing.T) {
	// 1. Start with a clean flag
	src := &flag{}
	poster := &inlinePoster{}
	var refreshed atomic.Int32
	s := NewScheduler(10*time.Millisecond, src, poster, func() { refreshed.Add(1) }, nil)
	s.Start()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if poster.count() != 0 {
		t.Fatalf("Expected no refresh while clean, got %d", poster.count())
	}

	// 2. Mark dirty once, expect exactly one refresh
	src.dirty.Store(true)
	deadline := time.Now().Add(time.Second)
	for refreshed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := refreshed.Load(); got != 1 {
		t.Errorf("Expected exactly one refresh, got %d", got)
	}
	if src.dirty.Load() {
		t.Errorf("Scheduler must clear the dirty flag")
	}
}

func TestScheduler_StopWithinOneInterval(t *testing.T) {
	interval := 20 * time.Millisecond
	s := NewScheduler(interval, &flag{}, &inlinePoster{}, func() {}, nil)
	s.Start()
	if !s.Running() {
		t.Fatalf("Scheduler should be running")
	}

	start := time.Now()
	s.Stop()
	if elapsed := time.Since(start); elapsed > 10*interval {
		t.Errorf("Stop took %s, expected about one interval", elapsed)
	}
	if s.Running() {
		t.Errorf("Scheduler should not be running after Stop")
	}

	// A stopped scheduler can be started again.
	s.Start()
	s.Stop()
}

func TestNewScheduler_DefaultInterval(t *testing.T) {
	s := NewScheduler(0, &flag{}, &inlinePoster{}, func() {}, nil)
	if s.interval != DefaultInterval {
		t.Errorf("Expected default interval, got %s", s.interval)
	}
}
