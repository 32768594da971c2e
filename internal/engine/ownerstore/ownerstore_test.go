package ownerstore

import (
	"errors"
	"testing"

	"Go2NetLog/internal/lifecycle"
	"Go2NetLog/internal/model"
)

func running() *lifecycle.Tracker {
	t := &lifecycle.Tracker{}
	t.Set(lifecycle.Running)
	return t
}

func newTestStore(t *testing.T, owners ...model.OwnerDescriptor) *Store {
	t.Helper()
	s := NewStore(DefaultSizeAccuracy)
	if err := s.Rebuild(owners, running()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	return s
}

func TestIngest_OutboundScenario(t *testing.T) {
	s := newTestStore(t,
		model.OwnerDescriptor{ID: 1000, Name: "Android System", Package: "android"},
		model.OwnerDescriptor{ID: 10050, Name: "Browser", Package: "org.browser"},
	)

	rec := &model.FlowRecord{
		OwnerID:      1000,
		OutInterface: "wlan0",
		SrcAddr:      "10.0.0.5",
		SrcPort:      40000,
		DstAddr:      "93.184.216.34",
		DstPort:      443,
		Length:       512,
		Timestamp:    1000,
	}
	if !s.Ingest(rec) {
		t.Fatalf("Expected record for owner 1000 to be accepted")
	}

	snap := s.Snapshot()
	owners := snap.OwnersByID(1000)
	if len(owners) != 1 {
		t.Fatalf("Expected 1 owner with id 1000, got %d", len(owners))
	}
	o := owners[0]
	if o.Bytes != 512 || o.Packets != 1 || o.LastTimestamp != 1000 {
		t.Errorf("Unexpected owner totals: bytes=%d packets=%d ts=%d", o.Bytes, o.Packets, o.LastTimestamp)
	}

	p := o.Peer("93.184.216.34:443")
	if p == nil {
		t.Fatalf("Expected peer 93.184.216.34:443 to exist")
	}
	if p.Sent.Bytes != 512 || p.Sent.Packets != 1 {
		t.Errorf("Unexpected sent counters: bytes=%d packets=%d", p.Sent.Bytes, p.Sent.Packets)
	}
	if p.Sent.Interface != "wlan0" || p.Sent.Port != 443 || p.Sent.Address != "93.184.216.34" {
		t.Errorf("Unexpected sent endpoint: %+v", p.Sent)
	}
	if p.Received.Packets != 0 {
		t.Errorf("Expected no received packets, got %d", p.Received.Packets)
	}
	if o.Peer("10.0.0.5:40000") != nil {
		t.Errorf("Source peer must not be created without an inbound interface")
	}
	if s.PeerCount() != 1 {
		t.Errorf("Expected peer count 1, got %d", s.PeerCount())
	}
}

func TestIngest_BothDirections(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 7, Name: "a"})

	s.Ingest(&model.FlowRecord{
		OwnerID: 7, InInterface: "eth0", OutInterface: "eth1",
		SrcAddr: "1.1.1.1", SrcPort: 53, DstAddr: "2.2.2.2", DstPort: 80,
		Length: 10, Timestamp: 5,
	})

	o := s.Snapshot().OwnersByID(7)[0]
	if len(o.Peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(o.Peers))
	}
	if in := o.Peer("1.1.1.1:53"); in == nil || in.Received.Bytes != 10 || in.Received.Interface != "eth0" {
		t.Errorf("Unexpected received peer: %+v", in)
	}
	if out := o.Peer("2.2.2.2:80"); out == nil || out.Sent.Bytes != 10 || out.Sent.Interface != "eth1" {
		t.Errorf("Unexpected sent peer: %+v", out)
	}
	if o.Packets != 1 {
		t.Errorf("Owner counts the record once, got %d packets", o.Packets)
	}
}

func TestIngest_UnknownOwnerDropped(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 1})
	before := s.Snapshot()

	if s.Ingest(&model.FlowRecord{OwnerID: 2, OutInterface: "wlan0", Length: 1}) {
		t.Fatalf("Expected record for unknown owner to be dropped")
	}
	if after := s.Snapshot(); after != before {
		t.Errorf("Dropped record must not produce a new snapshot")
	}
}

func TestIngest_GroupedIDs(t *testing.T) {
	s := newTestStore(t,
		model.OwnerDescriptor{ID: 5, Name: "five"},
		model.OwnerDescriptor{ID: 1013, Name: "media"},
		model.OwnerDescriptor{ID: 1013, Name: "drm"},
		model.OwnerDescriptor{ID: 1013, Name: "mediaserver"},
		model.OwnerDescriptor{ID: 2000, Name: "shell"},
	)

	// Prime the cache on the last entry of the run to exercise the backward scan.
	s.buffer.cacheIndex = 3
	s.buffer.cacheGeneration = s.buffer.generation

	s.Ingest(&model.FlowRecord{OwnerID: 1013, OutInterface: "wlan0", DstAddr: "8.8.8.8", DstPort: 53, Length: 64, Timestamp: 9})

	group := s.Snapshot().OwnersByID(1013)
	if len(group) != 3 {
		t.Fatalf("Expected 3 grouped owners, got %d", len(group))
	}
	names := []string{"media", "drm", "mediaserver"}
	for i, o := range group {
		if o.Name != names[i] {
			t.Errorf("Grouped owners must keep inventory order: got %s at %d", o.Name, i)
		}
		if o.Bytes != 64 || o.Packets != 1 {
			t.Errorf("Owner %s not updated: bytes=%d packets=%d", o.Name, o.Bytes, o.Packets)
		}
	}
	if s.PeerCount() != 3 {
		t.Errorf("Expected one peer per grouped owner, got %d", s.PeerCount())
	}
	for _, id := range []int{5, 2000} {
		if o := s.Snapshot().OwnersByID(id)[0]; o.Packets != 0 {
			t.Errorf("Owner %d must not be touched", id)
		}
	}
}

func TestBuffer_SortedAfterRebuilds(t *testing.T) {
	s := NewStore(DefaultSizeAccuracy)
	inputs := [][]model.OwnerDescriptor{
		{{ID: 30}, {ID: 10}, {ID: 20}},
		{{ID: 3}, {ID: 99}, {ID: 3}, {ID: 1}},
		{},
		{{ID: 7}},
	}
	for i, owners := range inputs {
		if err := s.Rebuild(owners, running()); err != nil {
			t.Fatalf("Rebuild %d failed: %v", i, err)
		}
		s.Ingest(&model.FlowRecord{OwnerID: 3, OutInterface: "x", DstAddr: "1.1.1.1", DstPort: 1})
		if s.OwnerCount() != len(owners) {
			t.Errorf("Rebuild %d: expected %d owners, got %d", i, len(owners), s.OwnerCount())
		}
		b := s.Buffer()
		for j := 1; j < b.Len(); j++ {
			if b.At(j-1).ID > b.At(j).ID {
				t.Errorf("Rebuild %d: buffer not sorted at %d", i, j)
			}
		}
	}
}

func TestBuffer_LookupCacheInvalidatedByGeneration(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 1}, model.OwnerDescriptor{ID: 2})

	if i := s.Buffer().Lookup(2); i != 1 {
		t.Fatalf("Expected index 1, got %d", i)
	}
	gen := s.Buffer().Generation()

	if err := s.Rebuild([]model.OwnerDescriptor{{ID: 0}, {ID: 1}, {ID: 2}}, running()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if s.Buffer().Generation() == gen {
		t.Fatalf("Rebuild must bump the buffer generation")
	}
	if i := s.Buffer().Lookup(2); i != 2 {
		t.Errorf("Expected index 2 after rebuild, got %d", i)
	}
	if i := s.Buffer().Lookup(42); i != -1 {
		t.Errorf("Expected -1 for a missing id, got %d", i)
	}
}

func TestRebuild_AbortsWhenNotRunning(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 1})
	s.Ingest(&model.FlowRecord{OwnerID: 1, OutInterface: "x", DstAddr: "1.1.1.1", DstPort: 1})

	stopping := &lifecycle.Tracker{}
	stopping.Set(lifecycle.Stopping)

	err := s.Rebuild([]model.OwnerDescriptor{{ID: 1}, {ID: 2}}, stopping)
	if !errors.Is(err, ErrRebuildAborted) {
		t.Fatalf("Expected ErrRebuildAborted, got %v", err)
	}
	if s.OwnerCount() != 0 || s.PeerCount() != 0 {
		t.Errorf("Aborted rebuild must leave a cleared store, got %d owners %d peers", s.OwnerCount(), s.PeerCount())
	}
}

func TestSamples_PreserveOrderAndSnapshotIsolation(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 1})
	for i := 1; i <= 5; i++ {
		s.Ingest(&model.FlowRecord{OwnerID: 1, InInterface: "wlan0", SrcAddr: "9.9.9.9", SrcPort: 443, Length: i * 10, Timestamp: int64(i)})
	}

	first := s.Snapshot()
	o := first.OwnersByID(1)[0]
	if len(o.Samples) != 5 {
		t.Fatalf("Expected 5 owner samples, got %d", len(o.Samples))
	}
	for i, sample := range o.Samples {
		if sample.Timestamp != int64(i+1) || sample.Length != (i+1)*10 {
			t.Errorf("Sample %d out of order: %+v", i, sample)
		}
	}
	if got := len(o.Peer("9.9.9.9:443").Samples); got != 5 {
		t.Errorf("Expected 5 peer samples, got %d", got)
	}
	if o.SizeP50 <= 0 || o.SizeP95 < o.SizeP50 {
		t.Errorf("Unexpected size quantiles p50=%v p95=%v", o.SizeP50, o.SizeP95)
	}

	s.Ingest(&model.FlowRecord{OwnerID: 1, InInterface: "wlan0", SrcAddr: "9.9.9.9", SrcPort: 443, Length: 60, Timestamp: 6})
	if len(o.Samples) != 5 || o.Packets != 5 {
		t.Errorf("Older snapshot changed after ingest: %d samples, %d packets", len(o.Samples), o.Packets)
	}

	s.ResetAggregates()
	if len(o.Samples) != 5 || o.Samples[4].Timestamp != 5 {
		t.Errorf("Older snapshot changed after reset")
	}
	if n := s.Snapshot().OwnersByID(1)[0]; n.Packets != 0 || len(n.Samples) != 0 || len(n.Peers) != 0 {
		t.Errorf("Reset owner still carries data: %+v", n)
	}
}

func TestSnapshot_ReusesCleanOwners(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 1}, model.OwnerDescriptor{ID: 2})
	first := s.Snapshot()

	if again := s.Snapshot(); again != first {
		t.Errorf("Unchanged store must return the previous snapshot")
	}

	s.Ingest(&model.FlowRecord{OwnerID: 2, OutInterface: "x", DstAddr: "b", DstPort: 2})
	s.Ingest(&model.FlowRecord{OwnerID: 2, OutInterface: "x", DstAddr: "a", DstPort: 1})
	second := s.Snapshot()

	if second.Version <= first.Version {
		t.Errorf("Expected version to grow, got %d then %d", first.Version, second.Version)
	}
	if second.Owners[0] != first.Owners[0] {
		t.Errorf("Clean owner snapshot must be reused")
	}
	if second.Owners[1] == first.Owners[1] {
		t.Errorf("Dirty owner snapshot must be rebuilt")
	}
	peers := second.Owners[1].Peers
	if len(peers) != 2 || peers[0].Key != "a:1" || peers[1].Key != "b:2" {
		t.Errorf("Peers not sorted by key: %v, %v", peers[0].Key, peers[1].Key)
	}
}

func TestRebuild_SharesIconHandlePerPackage(t *testing.T) {
	s := newTestStore(t,
		model.OwnerDescriptor{ID: 1, Package: "com.example"},
		model.OwnerDescriptor{ID: 2, Package: "com.example"},
		model.OwnerDescriptor{ID: 3, Package: "org.other"},
	)
	b := s.Buffer()
	if b.At(0).Icon != b.At(1).Icon {
		t.Errorf("Owners of one package must share the icon handle")
	}
	if b.At(0).Icon == b.At(2).Icon {
		t.Errorf("Different packages must not share an icon handle")
	}
}

func TestSnapshot_EpochTracksDiscardedAggregates(t *testing.T) {
	s := newTestStore(t, model.OwnerDescriptor{ID: 1, Name: "a"})
	epoch := s.Snapshot().Epoch

	s.Ingest(&model.FlowRecord{OwnerID: 1, OutInterface: "eth0", DstAddr: "1.1.1.1", DstPort: 53, Length: 1})
	if got := s.Snapshot().Epoch; got != epoch {
		t.Errorf("Ingest must not change the epoch: %d -> %d", epoch, got)
	}

	s.ResetAggregates()
	after := s.Snapshot()
	if after.Epoch != epoch+1 {
		t.Errorf("ResetAggregates must advance the epoch, got %d", after.Epoch)
	}
	if len(after.Owners) != 1 || after.Owners[0].Packets != 0 {
		t.Errorf("ResetAggregates must keep the registry and zero the counters")
	}

	if err := s.Rebuild([]model.OwnerDescriptor{{ID: 1}}, running()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if got := s.Snapshot().Epoch; got <= after.Epoch {
		t.Errorf("Rebuild must advance the epoch, got %d", got)
	}
}
