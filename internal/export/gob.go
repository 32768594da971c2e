package export

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"

	"k8s.io/klog/v2"
)

// OwnerRecord is the on-disk form of one owner and its peer totals.
type OwnerRecord struct {
	ID            int
	Name          string
	Package       string
	Packets       int64
	Bytes         int64
	LastTimestamp int64
	SizeP50       float64
	SizeP95       float64
	Peers         []PeerRecord
}

// PeerRecord is the on-disk form of one peer.
type PeerRecord struct {
	Key      string
	Sent     ownerstore.Endpoint
	Received ownerstore.Endpoint
}

// SummaryData holds the metadata of one exported snapshot.
type SummaryData struct {
	Owners     int    `json:"owners"`
	Peers      int    `json:"peers"`
	Generation uint64 `json:"generation"`
	Version    uint64 `json:"version"`
	Timestamp  string `json:"timestamp"`
}

// GobWriter writes owner totals into timestamped directories.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates the root directory of the exporter.
func NewGobWriter(cfg config.GobConfig, interval time.Duration) (*GobWriter, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("gob writer requires a root_path")
	}
	if err := os.MkdirAll(cfg.RootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &GobWriter{rootPath: cfg.RootPath, interval: interval}, nil
}

func (w *GobWriter) Name() string { return "gob" }

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores <root>/<timestamp>/owners.dat and summary.json. Empty snapshots are skipped.
func (w *GobWriter) Write(payload interface{}, timestamp string) error {
	snap, err := asSnapshot(w.Name(), payload)
	if err != nil {
		return err
	}
	if len(snap.Owners) == 0 {
		return nil
	}

	// 1. Create timestamped directory
	dir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// 2. Write the owner records
	records, peers := toRecords(snap)
	dataPath := filepath.Join(dir, "owners.dat")
	if err := encodeFile(dataPath, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(records)
	}); err != nil {
		return fmt.Errorf("failed to encode owners to gob for file '%s': %w", dataPath, err)
	}

	// 3. Write summary file
	summary := SummaryData{
		Owners:     len(records),
		Peers:      peers,
		Generation: snap.Generation,
		Version:    snap.Version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	summaryPath := filepath.Join(dir, "summary.json")
	if err := encodeFile(summaryPath, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	klog.V(2).Infof("Wrote %d owners to %s", len(records), dir)
	return nil
}

// Close implements model.Writer.
func (w *GobWriter) Close() error {
	return nil
}

func toRecords(snap *ownerstore.Snapshot) ([]OwnerRecord, int) {
	records := make([]OwnerRecord, 0, len(snap.Owners))
	peers := 0
	for _, o := range snap.Owners {
		r := OwnerRecord{
			ID:            o.ID,
			Name:          o.Name,
			Package:       o.Package,
			Packets:       o.Packets,
			Bytes:         o.Bytes,
			LastTimestamp: o.LastTimestamp,
			SizeP50:       o.SizeP50,
			SizeP95:       o.SizeP95,
			Peers:         make([]PeerRecord, 0, len(o.Peers)),
		}
		for _, p := range o.Peers {
			r.Peers = append(r.Peers, PeerRecord{Key: p.Key, Sent: p.Sent, Received: p.Received})
		}
		peers += len(o.Peers)
		records = append(records, r)
	}
	return records, peers
}

func encodeFile(path string, encode func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadOwners decodes the owners.dat file of one exported snapshot directory.
func ReadOwners(dir string) ([]OwnerRecord, error) {
	f, err := os.Open(filepath.Join(dir, "owners.dat"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []OwnerRecord
	if err := gob.NewDecoder(f).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode owners from %s: %w", dir, err)
	}
	return records, nil
}
