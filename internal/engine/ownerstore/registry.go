// Package ownerstore holds the canonical owner buffer and the per-owner aggregation store.
//
// A Store is not safe for concurrent use. It is owned by a single writer goroutine
// (see internal/engine/manager); readers only ever see the immutable Snapshot values
// it produces.
package ownerstore

import (
	"cmp"
	"errors"
	"slices"

	"Go2NetLog/internal/lifecycle"
	"Go2NetLog/internal/model"
)

// ErrRebuildAborted is returned when the lifecycle state left Running during a rebuild.
var ErrRebuildAborted = errors.New("owner registry rebuild aborted")

// DefaultSizeAccuracy is the relative accuracy of the per-owner packet size sketch.
const DefaultSizeAccuracy = 0.01

// Store combines the owner registry, the canonical buffer and the aggregation store.
type Store struct {
	buffer   Buffer
	accuracy float64

	peerCount int
	version   uint64
	epoch     uint64
	changed   bool
	last      *Snapshot
}

// NewStore creates an empty store. accuracy configures the packet size sketches.
func NewStore(accuracy float64) *Store {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultSizeAccuracy
	}
	s := &Store{accuracy: accuracy, changed: true}
	s.buffer.cacheIndex = -1
	return s
}

// Buffer exposes the canonical buffer for index lookups.
func (s *Store) Buffer() *Buffer {
	return &s.buffer
}

// Rebuild replaces the registry with owners. Before adding each owner the lifecycle
// state is checked; if it is no longer Running the partial state is cleared and
// ErrRebuildAborted is returned so the caller can retry later.
func (s *Store) Rebuild(owners []model.OwnerDescriptor, state *lifecycle.Tracker) error {
	s.Clear()

	entries := make([]*Owner, 0, len(owners))
	icons := make(map[string]*model.IconHandle)
	for _, desc := range owners {
		if state != nil && !state.IsRunning() {
			s.Clear()
			return ErrRebuildAborted
		}

		icon, ok := icons[desc.Package]
		if !ok {
			icon = model.NewIconHandle(desc.Package)
			icons[desc.Package] = icon
		}
		entries = append(entries, newOwner(desc, icon, s.accuracy))
	}

	// Stable so that grouped owners keep their inventory order.
	slices.SortStableFunc(entries, func(a, b *Owner) int {
		return cmp.Compare(a.ID, b.ID)
	})

	s.buffer.reset(entries)
	s.changed = true
	return nil
}

// Clear drops every owner together with its peers and samples.
func (s *Store) Clear() {
	s.buffer.reset(nil)
	s.peerCount = 0
	s.epoch++
	s.changed = true
}

// ResetAggregates zeroes all counters, peers and samples but keeps the registry.
func (s *Store) ResetAggregates() {
	for _, o := range s.buffer.owners {
		o.reset(s.accuracy)
	}
	s.peerCount = 0
	s.epoch++
	s.changed = true
}

// OwnerCount returns the number of entries in the canonical buffer.
func (s *Store) OwnerCount() int {
	return s.buffer.Len()
}

// PeerCount returns the number of peer records across all owners.
func (s *Store) PeerCount() int {
	return s.peerCount
}
