package export

import (
	"context"
	"fmt"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const createOwnerTableStatement = `
CREATE TABLE IF NOT EXISTS owner_metrics (
    Timestamp     DateTime,
    BatchID       UUID,
    OwnerID       UInt32,
    Name          String,
    Package       String,
    Packets       UInt64,
    Bytes         UInt64,
    LastTimestamp Int64,
    SizeP50       Float64,
    SizeP95       Float64,
    PeerCount     UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (OwnerID, Package, Timestamp);
`

const createPeerTableStatement = `
CREATE TABLE IF NOT EXISTS peer_metrics (
    Timestamp       DateTime,
    BatchID         UUID,
    OwnerID         UInt32,
    Package         String,
    PeerKey         String,
    SentAddr        String,
    SentPort        UInt16,
    SentPackets     UInt64,
    SentBytes       UInt64,
    ReceivedAddr    String,
    ReceivedPort    UInt16,
    ReceivedPackets UInt64,
    ReceivedBytes   UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (OwnerID, Package, PeerKey, Timestamp);
`

// ClickHouseWriter exports owner and peer totals to ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter connects to ClickHouse and ensures both tables exist.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createOwnerTableStatement, createPeerTableStatement} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	klog.Info("Successfully connected to ClickHouse and ensured tables exist.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts one row per owner and one row per peer, tagged with a shared batch id.
func (w *ClickHouseWriter) Write(payload interface{}, timestamp string) error {
	snap, err := asSnapshot(w.Name(), payload)
	if err != nil {
		return err
	}
	if len(snap.Owners) == 0 {
		return nil
	}

	ts := snapshotTime(timestamp)
	batchID := uuid.New()
	owners, peers := ownerRows(snap), peerRows(snap)

	ctx := context.Background()
	if err := w.send(ctx, "INSERT INTO owner_metrics", len(owners), func(b driver.Batch) error {
		for _, r := range owners {
			if err := b.Append(ts, batchID, r.OwnerID, r.Name, r.Package, r.Packets, r.Bytes,
				r.LastTimestamp, r.SizeP50, r.SizeP95, r.PeerCount); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := w.send(ctx, "INSERT INTO peer_metrics", len(peers), func(b driver.Batch) error {
		for _, r := range peers {
			if err := b.Append(ts, batchID, r.OwnerID, r.Package, r.PeerKey,
				r.SentAddr, r.SentPort, r.SentPackets, r.SentBytes,
				r.ReceivedAddr, r.ReceivedPort, r.ReceivedPackets, r.ReceivedBytes); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	klog.V(2).Infof("Wrote %d owners and %d peers to ClickHouse (batch %s)", len(owners), len(peers), batchID)
	return nil
}

func (w *ClickHouseWriter) send(ctx context.Context, query string, rows int, fill func(driver.Batch) error) error {
	if rows == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	if err := fill(batch); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

type ownerRow struct {
	OwnerID       uint32
	Name          string
	Package       string
	Packets       uint64
	Bytes         uint64
	LastTimestamp int64
	SizeP50       float64
	SizeP95       float64
	PeerCount     uint32
}

type peerRow struct {
	OwnerID         uint32
	Package         string
	PeerKey         string
	SentAddr        string
	SentPort        uint16
	SentPackets     uint64
	SentBytes       uint64
	ReceivedAddr    string
	ReceivedPort    uint16
	ReceivedPackets uint64
	ReceivedBytes   uint64
}

func ownerRows(snap *ownerstore.Snapshot) []ownerRow {
	rows := make([]ownerRow, 0, len(snap.Owners))
	for _, o := range snap.Owners {
		rows = append(rows, ownerRow{
			OwnerID:       uint32(o.ID),
			Name:          o.Name,
			Package:       o.Package,
			Packets:       uint64(o.Packets),
			Bytes:         uint64(o.Bytes),
			LastTimestamp: o.LastTimestamp,
			SizeP50:       o.SizeP50,
			SizeP95:       o.SizeP95,
			PeerCount:     uint32(len(o.Peers)),
		})
	}
	return rows
}

func peerRows(snap *ownerstore.Snapshot) []peerRow {
	var rows []peerRow
	for _, o := range snap.Owners {
		for _, p := range o.Peers {
			rows = append(rows, peerRow{
				OwnerID:         uint32(o.ID),
				Package:         o.Package,
				PeerKey:         p.Key,
				SentAddr:        p.Sent.Address,
				SentPort:        uint16(p.Sent.Port),
				SentPackets:     uint64(p.Sent.Packets),
				SentBytes:       uint64(p.Sent.Bytes),
				ReceivedAddr:    p.Received.Address,
				ReceivedPort:    uint16(p.Received.Port),
				ReceivedPackets: uint64(p.Received.Packets),
				ReceivedBytes:   uint64(p.Received.Bytes),
			})
		}
	}
	return rows
}
