// Package refresh throttles publication of engine changes to the display layer.
//
// On every tick the Scheduler consumes the engine's dirty flag and, if it was set,
// posts one refresh job to the display executor. A record ingested after a refresh
// took its snapshot becomes visible on the next tick, so the display lags the engine
// by at most one interval.
package refresh

import (
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLog/internal/metrics"

	"k8s.io/klog/v2"
)

// DefaultInterval is the refresh cadence used when none is configured.
const DefaultInterval = time.Second

// DirtySource reports and clears pending changes.
type DirtySource interface {
	ConsumeDirty() bool
}

// Poster queues a job on the display execution context.
// It returns false if the job was rejected.
type Poster interface {
	Post(job func()) bool
}

// Scheduler is the background refresh loop.
type Scheduler struct {
	interval time.Duration
	source   DirtySource
	poster   Poster
	job      func()
	metrics  *metrics.Collector

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler posting job whenever source reports changes.
func NewScheduler(interval time.Duration, source DirtySource, poster Poster, job func(), collector *metrics.Collector) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		source:   source,
		poster:   poster,
		job:      job,
		metrics:  collector,
	}
}

// Start launches the loop. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.loop()
	klog.Infof("Refresh scheduler started with interval %s.", s.interval)
}

// Stop clears the running flag and waits for the loop to observe it at its next tick.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	s.wg.Wait()
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		if !s.running.Load() {
			klog.Info("Refresh scheduler stopped.")
			return
		}
		s.tick()
	}
}

func (s *Scheduler) tick() {
	if !s.source.ConsumeDirty() {
		return
	}
	if !s.poster.Post(s.job) {
		klog.Warning("Display executor rejected the refresh job.")
		return
	}
	s.metrics.RefreshPosted()
}
