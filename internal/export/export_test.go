package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/factory"
	"Go2NetLog/internal/lifecycle"
	"Go2NetLog/internal/model"
)

func newStore(t *testing.T) *ownerstore.Store {
	t.Helper()
	state := &lifecycle.Tracker{}
	state.Set(lifecycle.Running)
	s := ownerstore.NewStore(0)
	owners := []model.OwnerDescriptor{
		{ID: 1000, Name: "Android System", Package: "android"},
		{ID: 10050, Name: "Browser", Package: "org.browser"},
	}
	if err := s.Rebuild(owners, state); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	return s
}

func outbound(owner int, dst string, port, length int, ts int64) *model.FlowRecord {
	return &model.FlowRecord{OwnerID: owner, OutInterface: "wlan0", SrcAddr: "10.0.0.5", SrcPort: 40000, DstAddr: dst, DstPort: port, Length: length, Timestamp: ts}
}

func TestRegistered(t *testing.T) {
	names := factory.Registered()
	for _, want := range []string{"clickhouse", "gob", "parquet"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("Writer type %q is not registered (got %v)", want, names)
		}
	}
}

func TestParquetWriter_Incremental(t *testing.T) {
	root := t.TempDir()
	w, err := NewParquetWriter(config.ParquetConfig{RootPath: root, Compression: "snappy"}, time.Minute)
	if err != nil {
		t.Fatalf("NewParquetWriter failed: %v", err)
	}
	defer w.Close()
	s := newStore(t)

	// 1. First export holds every sample: one owner series and one peer series
	s.Ingest(outbound(10050, "1.1.1.1", 443, 100, 1))
	s.Ingest(outbound(10050, "1.1.1.1", 443, 200, 2))
	snap := s.Snapshot()
	if err := w.Write(snap, "2024-01-01_00-00-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rows := readAll(t, filepath.Join(root, "2024-01-01_00-00-00"))
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows (2 owner + 2 peer samples), got %d", len(rows))
	}
	if rows[0].Peer != "" || rows[0].OwnerID != 10050 || rows[0].TimestampMs != 1 || rows[0].Length != 100 {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if rows[2].Peer != "1.1.1.1:443" {
		t.Errorf("Expected peer rows after owner rows, got %+v", rows[2])
	}

	// 2. Unchanged snapshot writes nothing
	if err := w.Write(snap, "2024-01-01_00-01-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "2024-01-01_00-01-00")); !os.IsNotExist(err) {
		t.Errorf("No directory expected without new samples")
	}

	// 3. Only the new sample is exported next time
	s.Ingest(outbound(1000, "8.8.8.8", 53, 60, 3))
	if err := w.Write(s.Snapshot(), "2024-01-01_00-02-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rows = readAll(t, filepath.Join(root, "2024-01-01_00-02-00"))
	if len(rows) != 2 || rows[0].OwnerID != 1000 || rows[0].TimestampMs != 3 {
		t.Errorf("Expected the two series of the new sample, got %+v", rows)
	}

	// 4. A reset starts the series over
	s.ResetAggregates()
	s.Ingest(outbound(1000, "8.8.8.8", 53, 70, 4))
	if err := w.Write(s.Snapshot(), "2024-01-01_00-03-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rows = readAll(t, filepath.Join(root, "2024-01-01_00-03-00"))
	if len(rows) != 2 || rows[0].Length != 70 {
		t.Errorf("Expected the post-reset samples, got %+v", rows)
	}
}

func readAll(t *testing.T, dir string) []SampleRow {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected one parquet file in %s, got %v (%v)", dir, matches, err)
	}
	rows, err := ReadSamples(matches[0])
	if err != nil {
		t.Fatalf("ReadSamples failed: %v", err)
	}
	return rows
}

func TestGobWriter(t *testing.T) {
	root := t.TempDir()
	w, err := NewGobWriter(config.GobConfig{RootPath: root}, time.Minute)
	if err != nil {
		t.Fatalf("NewGobWriter failed: %v", err)
	}
	s := newStore(t)
	s.Ingest(outbound(10050, "1.1.1.1", 443, 100, 1))
	s.Ingest(&model.FlowRecord{OwnerID: 10050, InInterface: "wlan0", SrcAddr: "1.1.1.1", SrcPort: 443, Length: 900, Timestamp: 2})

	if err := w.Write(s.Snapshot(), "2024-01-01_00-00-00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dir := filepath.Join(root, "2024-01-01_00-00-00")

	// 1. Owner records
	records, err := ReadOwners(dir)
	if err != nil {
		t.Fatalf("ReadOwners failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 owners, got %d", len(records))
	}
	b := records[1]
	if b.ID != 10050 || b.Packets != 2 || b.Bytes != 1000 || len(b.Peers) != 1 {
		t.Fatalf("Unexpected browser record: %+v", b)
	}
	if b.Peers[0].Sent.Bytes != 100 || b.Peers[0].Received.Bytes != 900 {
		t.Errorf("Unexpected peer record: %+v", b.Peers[0])
	}

	// 2. Summary
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary.Owners != 2 || summary.Peers != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestWriters_RejectForeignPayload(t *testing.T) {
	w, err := NewGobWriter(config.GobConfig{RootPath: t.TempDir()}, time.Minute)
	if err != nil {
		t.Fatalf("NewGobWriter failed: %v", err)
	}
	if err := w.Write("not a snapshot", "2024-01-01_00-00-00"); err == nil {
		t.Errorf("Expected error for a foreign payload")
	}
	if _, err := NewParquetWriter(config.ParquetConfig{}, time.Minute); err == nil {
		t.Errorf("Expected error without a root path")
	}
}

func TestRows(t *testing.T) {
	s := newStore(t)
	s.Ingest(outbound(10050, "1.1.1.1", 443, 100, 1))
	s.Ingest(outbound(10050, "9.9.9.9", 53, 50, 2))
	snap := s.Snapshot()

	owners := ownerRows(snap)
	if len(owners) != 2 || owners[1].PeerCount != 2 || owners[1].Bytes != 150 {
		t.Errorf("Unexpected owner rows: %+v", owners)
	}
	peers := peerRows(snap)
	if len(peers) != 2 || peers[0].PeerKey != "1.1.1.1:443" || peers[0].SentPort != 443 || peers[0].ReceivedPackets != 0 {
		t.Errorf("Unexpected peer rows: %+v", peers)
	}
}
