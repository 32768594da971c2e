package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/model"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"k8s.io/klog/v2"
)

// SampleRow is one exported (timestamp, length) point. Peer is empty for owner series.
type SampleRow struct {
	OwnerID     int64  `parquet:"owner_id"`
	Package     string `parquet:"package,dict"`
	Peer        string `parquet:"peer,dict"`
	TimestampMs int64  `parquet:"timestamp_ms"`
	Length      int64  `parquet:"length"`
}

type seriesKey struct {
	id      int
	pkg     string
	peer    string
	isOwner bool
}

// ParquetWriter appends the samples recorded since its previous write to a new parquet file.
type ParquetWriter struct {
	rootPath    string
	compression compress.Codec
	interval    time.Duration

	mu     sync.Mutex
	epoch  uint64
	primed bool
	marks  map[seriesKey]int
}

// NewParquetWriter creates the root directory of the exporter.
func NewParquetWriter(cfg config.ParquetConfig, interval time.Duration) (*ParquetWriter, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("parquet writer requires a root_path")
	}
	if err := os.MkdirAll(cfg.RootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parquet directory: %w", err)
	}
	return &ParquetWriter{
		rootPath:    cfg.RootPath,
		compression: compressionCodec(cfg.Compression),
		interval:    interval,
		marks:       make(map[seriesKey]int),
	}, nil
}

func compressionCodec(name string) compress.Codec {
	switch name {
	case "none":
		return &parquet.Uncompressed
	case "snappy":
		return &parquet.Snappy
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	default:
		return &parquet.Zstd
	}
}

func (w *ParquetWriter) Name() string { return "parquet" }

// GetInterval returns the configured snapshot interval for this writer.
func (w *ParquetWriter) GetInterval() time.Duration {
	return w.interval
}

// Write exports the new samples of snap to <root>/<timestamp>/samples_<version>.parquet.
// No file is created when nothing new was recorded.
func (w *ParquetWriter) Write(payload interface{}, timestamp string) error {
	snap, err := asSnapshot(w.Name(), payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.primed || snap.Epoch != w.epoch {
		w.marks = make(map[seriesKey]int)
		w.epoch = snap.Epoch
		w.primed = true
	}

	rows := w.collect(snap)
	if len(rows) == 0 {
		return nil
	}

	dir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("samples_%d.parquet", snap.Version))
	if err := writeRows(path, rows, w.compression); err != nil {
		return err
	}

	klog.V(2).Infof("Wrote %d samples to %s", len(rows), path)
	return nil
}

// collect returns the samples past each series' mark and advances the marks.
func (w *ParquetWriter) collect(snap *ownerstore.Snapshot) []SampleRow {
	var rows []SampleRow
	appendSeries := func(key seriesKey, samples []model.Sample) {
		from := w.marks[key]
		if from > len(samples) {
			from = 0
		}
		for _, s := range samples[from:] {
			rows = append(rows, SampleRow{
				OwnerID:     int64(key.id),
				Package:     key.pkg,
				Peer:        key.peer,
				TimestampMs: s.Timestamp,
				Length:      int64(s.Length),
			})
		}
		w.marks[key] = len(samples)
	}

	for _, o := range snap.Owners {
		appendSeries(seriesKey{id: o.ID, pkg: o.Package, isOwner: true}, o.Samples)
		for _, p := range o.Peers {
			appendSeries(seriesKey{id: o.ID, pkg: o.Package, peer: p.Key}, p.Samples)
		}
	}
	return rows
}

func writeRows(path string, rows []SampleRow, codec compress.Codec) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file '%s': %w", path, err)
	}

	writer := parquet.NewGenericWriter[SampleRow](f, parquet.Compression(codec))
	if _, err := writer.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write rows to '%s': %w", path, err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to close parquet writer for '%s': %w", path, err)
	}
	return f.Close()
}

// ReadSamples reads every row of a sample file.
func ReadSamples(path string) ([]SampleRow, error) {
	return parquet.ReadFile[SampleRow](path)
}

// Close implements model.Writer. Every file is closed after its write.
func (w *ParquetWriter) Close() error {
	return nil
}
