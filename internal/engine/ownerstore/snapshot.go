package ownerstore

import (
	"sort"

	"Go2NetLog/internal/model"
)

// PeerSnapshot is an immutable copy of a peer record.
type PeerSnapshot struct {
	Key      string         `json:"key"`
	Sent     Endpoint       `json:"sent"`
	Received Endpoint       `json:"received"`
	Samples  []model.Sample `json:"-"`
}

// OwnerSnapshot is an immutable copy of an owner record. Peers are sorted by key.
type OwnerSnapshot struct {
	ID            int               `json:"id"`
	IDString      string            `json:"-"`
	Name          string            `json:"name"`
	NameLower     string            `json:"-"`
	Package       string            `json:"package"`
	Icon          *model.IconHandle `json:"-"`
	Packets       int64             `json:"packets"`
	Bytes         int64             `json:"bytes"`
	LastTimestamp int64             `json:"last_timestamp"`
	SizeP50       float64           `json:"size_p50"`
	SizeP95       float64           `json:"size_p95"`
	Peers         []*PeerSnapshot   `json:"-"`
	Samples       []model.Sample    `json:"-"`
}

// Peer returns the peer stored under key, or nil.
func (o *OwnerSnapshot) Peer(key string) *PeerSnapshot {
	i := sort.Search(len(o.Peers), func(i int) bool { return o.Peers[i].Key >= key })
	if i < len(o.Peers) && o.Peers[i].Key == key {
		return o.Peers[i]
	}
	return nil
}

// Snapshot is a consistent, immutable view of the whole store in canonical order.
type Snapshot struct {
	// Generation is the canonical buffer generation the snapshot was taken from.
	Generation uint64
	// Version increases every time the store content changed between two snapshots.
	Version uint64
	// Epoch increases whenever aggregates were discarded by a clear, rebuild or reset.
	Epoch  uint64
	Owners []*OwnerSnapshot
}

// OwnersByID returns every owner entry with the given id.
func (s *Snapshot) OwnersByID(id int) []*OwnerSnapshot {
	i := sort.Search(len(s.Owners), func(i int) bool { return s.Owners[i].ID >= id })
	j := i
	for j < len(s.Owners) && s.Owners[j].ID == id {
		j++
	}
	return s.Owners[i:j]
}

// Snapshot returns an immutable view of the store. Only dirty owners are copied again;
// if nothing changed since the previous call the previous snapshot is returned.
func (s *Store) Snapshot() *Snapshot {
	if !s.changed && s.last != nil && s.last.Generation == s.buffer.generation {
		return s.last
	}

	s.version++
	snap := &Snapshot{
		Generation: s.buffer.generation,
		Version:    s.version,
		Epoch:      s.epoch,
		Owners:     make([]*OwnerSnapshot, s.buffer.Len()),
	}
	for i, o := range s.buffer.owners {
		if o.dirty || o.cached == nil {
			o.cached = o.snapshot()
			o.dirty = false
		}
		snap.Owners[i] = o.cached
	}

	s.last = snap
	s.changed = false
	return snap
}

func (o *Owner) snapshot() *OwnerSnapshot {
	keys := o.sortedPeerKeys()
	peers := make([]*PeerSnapshot, len(keys))
	for i, k := range keys {
		p := o.peers[k]
		peers[i] = &PeerSnapshot{
			Key:      p.Key,
			Sent:     p.Sent,
			Received: p.Received,
			Samples:  p.samples[:len(p.samples):len(p.samples)],
		}
	}

	snap := &OwnerSnapshot{
		ID:            o.ID,
		IDString:      o.IDString,
		Name:          o.Name,
		NameLower:     o.NameLower,
		Package:       o.Package,
		Icon:          o.Icon,
		Packets:       o.Packets,
		Bytes:         o.Bytes,
		LastTimestamp: o.LastTimestamp,
		Peers:         peers,
		Samples:       o.samples[:len(o.samples):len(o.samples)],
	}
	if o.sizes != nil && !o.sizes.IsEmpty() {
		snap.SizeP50, _ = o.sizes.GetValueAtQuantile(0.50)
		snap.SizeP95, _ = o.sizes.GetValueAtQuantile(0.95)
	}
	return snap
}
