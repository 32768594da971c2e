// Package export implements the snapshot writers registered with the writer factory.
package export

import (
	"fmt"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/factory"
	"Go2NetLog/internal/model"
)

const timestampLayout = "2006-01-02_15-04-05"

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, interval)
	})
	factory.RegisterWriter("parquet", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewParquetWriter(def.Parquet, interval)
	})
	factory.RegisterWriter("gob", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewGobWriter(def.Gob, interval)
	})
}

func asSnapshot(writer string, payload interface{}) (*ownerstore.Snapshot, error) {
	snap, ok := payload.(*ownerstore.Snapshot)
	if !ok || snap == nil {
		return nil, fmt.Errorf("invalid payload type for %s writer: expected *ownerstore.Snapshot, got %T", writer, payload)
	}
	return snap, nil
}

// snapshotTime parses the writer timestamp, falling back to the current time.
func snapshotTime(timestamp string) time.Time {
	t, err := time.ParseInLocation(timestampLayout, timestamp, time.Local)
	if err != nil {
		return time.Now()
	}
	return t
}
