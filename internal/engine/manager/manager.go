// Package manager runs the ingestion engine.
//
// A Manager owns the ownerstore.Store on a single writer goroutine. Flow records
// arrive on a buffered channel; rebuild, clear, reingest and snapshot requests are
// closures executed on the same goroutine. Everything handed out to callers is an
// immutable ownerstore.Snapshot, so readers never share a lock with the writer.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLog/internal/alerter"
	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/factory"
	"Go2NetLog/internal/lifecycle"
	"Go2NetLog/internal/metrics"
	"Go2NetLog/internal/model"
	"Go2NetLog/internal/notification"

	"k8s.io/klog/v2"
)

// ErrStopped is returned by requests made after the writer goroutine exited.
var ErrStopped = errors.New("manager stopped")

const timestampLayout = "2006-01-02_15-04-05"

var _ model.Aggregator = (*Manager)(nil)

// Manager orchestrates the owner store, its writers and the alerter.
type Manager struct {
	store     *ownerstore.Store
	inventory model.Inventory
	writers   []model.Writer
	alerter   *alerter.Alerter
	metrics   *metrics.Collector
	state     lifecycle.Tracker

	records  chan model.FlowRecord
	inputMu  sync.RWMutex
	closed   bool
	requests chan func()
	exited   chan struct{}
	final    atomic.Pointer[ownerstore.Snapshot]

	dirty        atomic.Bool
	retryPending atomic.Bool

	rebuildInterval time.Duration
	rebuildMu       sync.Mutex

	workerWg      sync.WaitGroup
	done          chan struct{}
	snapshotterWg sync.WaitGroup
	stopOnce      sync.Once
}

// NewManager creates a Manager, its writers and, if enabled, its alerter.
func NewManager(cfg *config.Config, inventory model.Inventory, collector *metrics.Collector) (*Manager, error) {
	rebuildInterval, err := cfg.RebuildInterval()
	if err != nil {
		return nil, err
	}

	writers, err := factory.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create writers: %w", err)
	}

	m := &Manager{
		store:           ownerstore.NewStore(cfg.Engine.SizeAccuracy),
		inventory:       inventory,
		writers:         writers,
		metrics:         collector,
		records:         make(chan model.FlowRecord, cfg.Engine.SizeOfRecordChannel),
		requests:        make(chan func()),
		exited:          make(chan struct{}),
		done:            make(chan struct{}),
		rebuildInterval: rebuildInterval,
	}

	if cfg.Alerter.Enabled {
		notifier, err := notification.New(cfg.Alerter.Notifier, cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		if notifier == nil {
			klog.Warning("Alerter is enabled in config, but no notifier is configured. Alerter will not run.")
		} else {
			m.alerter, err = alerter.NewAlerter(&cfg.Alerter, m, notifier, collector)
			if err != nil {
				return nil, fmt.Errorf("failed to create alerter: %w", err)
			}
			klog.Info("Alerter enabled and initialized.")
		}
	}

	return m, nil
}

// Start launches the writer goroutine, one snapshotter per writer, the periodic
// rebuild loop and the alerter.
func (m *Manager) Start() {
	m.state.Set(lifecycle.Starting)

	m.workerWg.Add(1)
	go m.worker()

	for _, writer := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(writer)
		klog.Infof("Started snapshotter for writer %s with interval %s.", writer.Name(), writer.GetInterval())
	}

	if m.rebuildInterval > 0 {
		m.snapshotterWg.Add(1)
		go m.runRebuilder()
	}

	if m.alerter != nil {
		m.alerter.Start()
	}

	m.state.Set(lifecycle.Running)
	klog.Infof("Manager started with %d writers.", len(m.writers))
}

// Stop drains buffered records, writes a final snapshot to every writer and closes them.
// Records must not be sent on InputChannel after Stop was called.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		klog.Info("Manager stopping...")
		m.state.Set(lifecycle.Stopping)

		if m.alerter != nil {
			m.alerter.Stop()
		}

		// 1. Stop accepting new records and let the writer drain the buffer.
		m.inputMu.Lock()
		m.closed = true
		close(m.records)
		m.inputMu.Unlock()
		klog.Info("Waiting for the writer goroutine to finish...")
		m.workerWg.Wait()

		// 2. Signal snapshotters to take a final snapshot and exit.
		close(m.done)
		m.snapshotterWg.Wait()

		for _, w := range m.writers {
			if err := w.Close(); err != nil {
				klog.Errorf("Failed to close writer %s: %v", w.Name(), err)
			}
		}

		m.state.Set(lifecycle.Stopped)
		klog.Info("Manager stopped.")
	})
}

// State returns the lifecycle tracker of the engine.
func (m *Manager) State() *lifecycle.Tracker {
	return &m.state
}

// InputChannel returns the channel flow records are sent on.
func (m *Manager) InputChannel() chan<- model.FlowRecord {
	return m.records
}

// Ingest queues one record. It blocks while the channel is full and returns false
// once Stop was called. Unlike InputChannel it is safe to call concurrently with Stop.
func (m *Manager) Ingest(rec model.FlowRecord) bool {
	m.inputMu.RLock()
	defer m.inputMu.RUnlock()
	if m.closed {
		return false
	}
	m.records <- rec
	return true
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	defer close(m.exited)

	for {
		select {
		case rec, ok := <-m.records:
			if !ok {
				m.final.Store(m.store.Snapshot())
				return
			}
			m.ingest(&rec)
		case req := <-m.requests:
			req()
		}
	}
}

func (m *Manager) ingest(rec *model.FlowRecord) {
	if !m.store.Ingest(rec) {
		m.metrics.FlowDropped()
		klog.V(4).Infof("Dropping flow for unknown owner %d (%s:%d -> %s:%d)", rec.OwnerID, rec.SrcAddr, rec.SrcPort, rec.DstAddr, rec.DstPort)
		return
	}
	m.metrics.FlowIngested()
	m.metrics.SetSize(m.store.OwnerCount(), m.store.PeerCount())
	m.dirty.Store(true)
}

// do runs fn on the writer goroutine and waits for it to finish.
func (m *Manager) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		defer close(finished)
		fn()
	}

	select {
	case m.requests <- req:
	case <-m.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns an immutable view of the store. After Stop it returns the final snapshot.
func (m *Manager) Snapshot(ctx context.Context) (*ownerstore.Snapshot, error) {
	var snap *ownerstore.Snapshot
	err := m.do(ctx, func() { snap = m.store.Snapshot() })
	if errors.Is(err, ErrStopped) {
		if final := m.final.Load(); final != nil {
			return final, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Rebuild fetches the inventory and replaces the owner registry. A rebuild interrupted by a
// lifecycle change leaves an empty store, returns ownerstore.ErrRebuildAborted and marks a retry
// as pending.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	owners, err := m.inventory.Owners(ctx)
	if err != nil {
		m.retryPending.Store(true)
		m.metrics.Rebuild(metrics.RebuildFailed)
		return fmt.Errorf("failed to fetch owner inventory: %w", err)
	}

	var rebuildErr error
	err = m.do(ctx, func() {
		rebuildErr = m.store.Rebuild(owners, &m.state)
		m.metrics.SetSize(m.store.OwnerCount(), m.store.PeerCount())
	})
	if err != nil {
		m.retryPending.Store(true)
		m.metrics.Rebuild(metrics.RebuildFailed)
		return fmt.Errorf("failed to rebuild owner registry: %w", err)
	}
	m.dirty.Store(true)

	if rebuildErr != nil {
		m.retryPending.Store(true)
		m.metrics.Rebuild(metrics.RebuildAborted)
		klog.Warningf("Owner registry rebuild aborted, retry pending: %v", rebuildErr)
		return rebuildErr
	}

	m.retryPending.Store(false)
	m.metrics.Rebuild(metrics.RebuildOK)
	klog.Infof("Owner registry rebuilt with %d owners.", len(owners))
	return nil
}

// RetryPending reports whether the last rebuild did not complete.
func (m *Manager) RetryPending() bool {
	return m.retryPending.Load()
}

// Clear drops every owner together with its aggregates.
func (m *Manager) Clear(ctx context.Context) error {
	err := m.do(ctx, func() {
		m.store.Clear()
		m.metrics.SetSize(0, 0)
	})
	if err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	m.dirty.Store(true)
	return nil
}

// Reingest resets every aggregate and replays records in order, keeping the registry.
func (m *Manager) Reingest(ctx context.Context, records []model.FlowRecord) error {
	err := m.do(ctx, func() {
		m.store.ResetAggregates()
		for i := range records {
			m.ingest(&records[i])
		}
		m.metrics.SetSize(m.store.OwnerCount(), m.store.PeerCount())
	})
	if err != nil {
		return fmt.Errorf("failed to reingest %d records: %w", len(records), err)
	}
	m.dirty.Store(true)
	klog.Infof("Reingested %d records.", len(records))
	return nil
}

// ConsumeDirty reports whether anything changed since the previous call and clears the flag.
func (m *Manager) ConsumeDirty() bool {
	return m.dirty.CompareAndSwap(true, false)
}

// MarkDirty forces the next refresh tick to publish.
func (m *Manager) MarkDirty() {
	m.dirty.Store(true)
}

// runRebuilder retries failed rebuilds and refreshes the registry periodically.
func (m *Manager) runRebuilder() {
	defer m.snapshotterWg.Done()
	ticker := time.NewTicker(m.rebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.rebuildInterval)
			if err := m.Rebuild(ctx); err != nil {
				klog.Warningf("Periodic rebuild failed: %v", err)
			}
			cancel()
		case <-m.done:
			return
		}
	}
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer model.Writer) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		klog.Warningf("Invalid interval %s for writer %s, snapshotter will not run.", interval, writer.Name())
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshotForWriter(writer)
		case <-m.done:
			m.takeSnapshotForWriter(writer)
			return
		}
	}
}

// takeSnapshotForWriter takes a snapshot and hands it to writer.
func (m *Manager) takeSnapshotForWriter(writer model.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), writer.GetInterval())
	defer cancel()

	snap, err := m.Snapshot(ctx)
	if err != nil {
		klog.Errorf("Failed to take snapshot for writer %s: %v", writer.Name(), err)
		return
	}

	start := time.Now()
	timestamp := start.Format(timestampLayout)
	if err := writer.Write(snap, timestamp); err != nil {
		klog.Errorf("Error writing snapshot for writer %s: %v", writer.Name(), err)
		return
	}
	m.metrics.ObserveExport(writer.Name(), time.Since(start).Seconds())
	klog.V(2).Infof("Completed snapshot for writer %s at %s.", writer.Name(), timestamp)
}
