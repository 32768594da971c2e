package filter

import (
	"reflect"
	"testing"

	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/lifecycle"
	"Go2NetLog/internal/model"
)

type fakeResolver struct {
	hosts    map[string]string
	services map[int]string
}

func (r fakeResolver) ResolveAddress(addr string) string { return r.hosts[addr] }
func (r fakeResolver) ResolveService(port int) string    { return r.services[port] }

// buildSnapshot registers three owners and gives them peers:
//
//	1000 "Android System": 10.0.0.1:53 (sent), 93.184.216.34:443 (sent)
//	10050 "Browser":        10.0.0.1:443 (sent)
//	10077 "Mail":           172.16.0.9:993 (received)
//	10099 "Idle":           no peers
func buildSnapshot(t *testing.T) *ownerstore.Snapshot {
	t.Helper()
	state := &lifecycle.Tracker{}
	state.Set(lifecycle.Running)

	s := ownerstore.NewStore(ownerstore.DefaultSizeAccuracy)
	err := s.Rebuild([]model.OwnerDescriptor{
		{ID: 10099, Name: "Idle", Package: "org.idle"},
		{ID: 10050, Name: "Browser", Package: "org.browser"},
		{ID: 1000, Name: "Android System", Package: "android"},
		{ID: 10077, Name: "Mail", Package: "org.mail"},
	}, state)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	recs := []model.FlowRecord{
		{OwnerID: 1000, OutInterface: "wlan0", DstAddr: "10.0.0.1", DstPort: 53, Length: 80, Timestamp: 10},
		{OwnerID: 1000, OutInterface: "wlan0", DstAddr: "93.184.216.34", DstPort: 443, Length: 512, Timestamp: 20},
		{OwnerID: 10050, OutInterface: "wlan0", DstAddr: "10.0.0.1", DstPort: 443, Length: 1500, Timestamp: 15},
		{OwnerID: 10077, InInterface: "rmnet0", SrcAddr: "172.16.0.9", SrcPort: 993, Length: 40, Timestamp: 30},
	}
	for i := range recs {
		if !s.Ingest(&recs[i]) {
			t.Fatalf("Record %d dropped", i)
		}
	}
	return s.Snapshot()
}

func ids(views []OwnerView) []int {
	out := make([]int, len(views))
	for i, v := range views {
		out[i] = v.Owner.ID
	}
	return out
}

func peerKeys(v OwnerView) []string {
	out := make([]string, len(v.Peers))
	for i, p := range v.Peers {
		out[i] = p.Key
	}
	return out
}

func TestEvaluate_EmptyQueryReturnsEverything(t *testing.T) {
	snap := buildSnapshot(t)
	views := NewEvaluator(nil).Evaluate(snap, Query{IncludeFields: FieldSet{Name: true}})

	if got, want := ids(views), []int{1000, 10050, 10077, 10099}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for _, v := range views {
		if len(v.Peers) != len(v.Owner.Peers) {
			t.Errorf("Owner %d: expected all %d peers visible, got %d", v.Owner.ID, len(v.Owner.Peers), len(v.Peers))
		}
	}
}

func TestEvaluate_IncludeByID(t *testing.T) {
	snap := buildSnapshot(t)
	q := Query{Include: []string{"1000"}, IncludeFields: FieldSet{ID: true, Address: true}}
	views := NewEvaluator(nil).Evaluate(snap, q)

	if got := ids(views); !reflect.DeepEqual(got, []int{1000}) {
		t.Fatalf("Expected only owner 1000, got %v", got)
	}
	if got, want := peerKeys(views[0]), []string{"10.0.0.1:53", "93.184.216.34:443"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected all peers %v, got %v", want, got)
	}
}

func TestEvaluate_IncludeByNameIsCaseInsensitive(t *testing.T) {
	snap := buildSnapshot(t)
	q := Query{Include: []string{"BROW"}, IncludeFields: FieldSet{Name: true}}
	if got := ids(NewEvaluator(nil).Evaluate(snap, q)); !reflect.DeepEqual(got, []int{10050}) {
		t.Errorf("Expected [10050], got %v", got)
	}
}

func TestEvaluate_IncludeByAddressKeepsMatchingPeers(t *testing.T) {
	snap := buildSnapshot(t)
	q := Query{Include: []string{"93.184"}, IncludeFields: FieldSet{Address: true}}
	views := NewEvaluator(nil).Evaluate(snap, q)

	if got := ids(views); !reflect.DeepEqual(got, []int{1000}) {
		t.Fatalf("Expected [1000], got %v", got)
	}
	if got := peerKeys(views[0]); !reflect.DeepEqual(got, []string{"93.184.216.34:443"}) {
		t.Errorf("Expected only the matching peer, got %v", got)
	}
}

func TestEvaluate_IncludeByPortIsExact(t *testing.T) {
	snap := buildSnapshot(t)
	q := Query{Include: []string{"44"}, IncludeFields: FieldSet{Port: true}}
	if views := NewEvaluator(nil).Evaluate(snap, q); len(views) != 0 {
		t.Errorf("Partial port must not match, got %v", ids(views))
	}

	q.Include = []string{"993"}
	views := NewEvaluator(nil).Evaluate(snap, q)
	if got := ids(views); !reflect.DeepEqual(got, []int{10077}) {
		t.Errorf("Expected [10077] for received port 993, got %v", got)
	}
}

func TestEvaluate_IncludeWithoutFieldsMatchesNothing(t *testing.T) {
	snap := buildSnapshot(t)
	views := NewEvaluator(nil).Evaluate(snap, Query{Include: []string{"mail"}})
	if len(views) != 0 {
		t.Errorf("Expected no result, got %v", ids(views))
	}
}

func TestEvaluate_ExcludeByAddress(t *testing.T) {
	snap := buildSnapshot(t)
	q := Query{Exclude: []string{"10.0.0.1"}, ExcludeFields: FieldSet{Address: true}}
	views := NewEvaluator(nil).Evaluate(snap, q)

	// 10050 loses its only peer and is dropped; 10099 had no peers removed and stays.
	if got, want := ids(views), []int{1000, 10077, 10099}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if got := peerKeys(views[0]); !reflect.DeepEqual(got, []string{"93.184.216.34:443"}) {
		t.Errorf("Expected matching peer removed from 1000, got %v", got)
	}
	if got := peerKeys(views[1]); !reflect.DeepEqual(got, []string{"172.16.0.9:993"}) {
		t.Errorf("Owner without matching peers must be kept in full, got %v", got)
	}
	if len(snap.OwnersByID(1000)[0].Peers) != 2 {
		t.Errorf("Evaluation must not mutate the snapshot")
	}
}

func TestEvaluate_ExcludeByName(t *testing.T) {
	snap := buildSnapshot(t)
	q := Query{
		Include:       []string{"10.0.0.1"},
		IncludeFields: FieldSet{Address: true},
		Exclude:       []string{"android"},
		ExcludeFields: FieldSet{Name: true},
	}
	if got := ids(NewEvaluator(nil).Evaluate(snap, q)); !reflect.DeepEqual(got, []int{10050}) {
		t.Errorf("Expected [10050], got %v", got)
	}
}

func TestEvaluate_ResolvedForms(t *testing.T) {
	snap := buildSnapshot(t)
	r := fakeResolver{
		hosts:    map[string]string{"93.184.216.34": "Example.COM"},
		services: map[int]string{993: "imaps"},
	}
	ev := NewEvaluator(r)

	q := Query{Include: []string{"example"}, IncludeFields: FieldSet{Address: true}}
	if views := ev.Evaluate(snap, q); len(views) != 0 {
		t.Errorf("Resolved names must not match when resolution is off, got %v", ids(views))
	}

	q.ResolveHosts = true
	if got := ids(ev.Evaluate(snap, q)); !reflect.DeepEqual(got, []int{1000}) {
		t.Errorf("Expected [1000] via resolved host, got %v", got)
	}

	q = Query{Include: []string{"IMAPS"}, IncludeFields: FieldSet{Port: true}, ResolvePorts: true}
	if got := ids(ev.Evaluate(snap, q)); !reflect.DeepEqual(got, []int{10077}) {
		t.Errorf("Expected [10077] via resolved service, got %v", got)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	snap := buildSnapshot(t)
	ev := NewEvaluator(nil)
	q := Query{
		Include:       []string{"10.0.0.1", "mail"},
		IncludeFields: FieldSet{Name: true, Address: true},
		Exclude:       []string{"53"},
		ExcludeFields: FieldSet{Port: true},
	}

	first := ev.Evaluate(snap, q)
	Sort(first, SortByName, SortByBytes)
	second := ev.Evaluate(snap, q)
	Sort(second, SortByName, SortByBytes)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Same query on the same snapshot must give the same result")
	}
}

func TestSort_Keys(t *testing.T) {
	snap := buildSnapshot(t)
	ev := NewEvaluator(nil)

	cases := []struct {
		key  SortKey
		want []int
	}{
		{SortByID, []int{1000, 10050, 10077, 10099}},
		{SortByName, []int{1000, 10050, 10099, 10077}},
		{SortByBytes, []int{10050, 1000, 10077, 10099}},
		{SortByPackets, []int{1000, 10050, 10077, 10099}},
		{SortByTimestamp, []int{10077, 1000, 10050, 10099}},
	}
	for _, c := range cases {
		views := ev.Evaluate(snap, Query{})
		Sort(views, SortByID, c.key)
		if got := ids(views); !reflect.DeepEqual(got, c.want) {
			t.Errorf("Sort by %s: expected %v, got %v", c.key, c.want, got)
		}
	}
}

func TestSort_PreKeyBreaksTies(t *testing.T) {
	snap := buildSnapshot(t)
	views := NewEvaluator(nil).Evaluate(snap, Query{})

	// 10050 and 10077 both have one packet; name decides between them.
	Sort(views, SortByName, SortByPackets)
	if got, want := ids(views), []int{1000, 10050, 10077, 10099}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	Sort(views, SortByTimestamp, SortByPackets)
	if got, want := ids(views), []int{1000, 10077, 10050, 10099}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseSortKey(t *testing.T) {
	for _, k := range []SortKey{SortByID, SortByName, SortByPackets, SortByBytes, SortByTimestamp} {
		got, err := ParseSortKey(k.String())
		if err != nil || got != k {
			t.Errorf("ParseSortKey(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseSortKey("latency"); err == nil {
		t.Errorf("Expected error for unknown key")
	}
}

func TestParseTerms(t *testing.T) {
	got := ParseTerms("  Foo, bar\t10.0.0.1,,443 ")
	want := []string{"foo", "bar", "10.0.0.1", "443"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if ParseTerms("  , ") != nil {
		t.Errorf("Expected nil for a blank filter")
	}
}

func TestHostString(t *testing.T) {
	snap := buildSnapshot(t)
	r := fakeResolver{
		hosts:    map[string]string{"172.16.0.9": "mail.example"},
		services: map[int]string{993: "imaps"},
	}

	mail := snap.OwnersByID(10077)[0].Peers[0]
	if got := HostString(mail, r, Query{}); got != "172.16.0.9:993" {
		t.Errorf("Unexpected raw host string %q", got)
	}
	if got := HostString(mail, r, Query{ResolveHosts: true, ResolvePorts: true}); got != "mail.example:imaps" {
		t.Errorf("Unexpected resolved host string %q", got)
	}
	sent := snap.OwnersByID(1000)[0].Peer("93.184.216.34:443")
	if got := HostString(sent, nil, Query{ResolveHosts: true}); got != "93.184.216.34:443" {
		t.Errorf("Unexpected sent host string %q", got)
	}
}
