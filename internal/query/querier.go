// Package query reads exported owner totals back from ClickHouse.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/export"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Metric selects the owner_metrics column a history is built from.
type Metric string

const (
	MetricBytes   Metric = "bytes"
	MetricPackets Metric = "packets"
	MetricPeers   Metric = "peers"
)

func (m Metric) column() (string, error) {
	switch m {
	case MetricBytes, "":
		return "Bytes", nil
	case MetricPackets:
		return "Packets", nil
	case MetricPeers:
		return "PeerCount", nil
	default:
		return "", fmt.Errorf("unknown metric '%s'", m)
	}
}

// HistoryRequest selects the exported values of one owner.
type HistoryRequest struct {
	OwnerID int
	Package string
	Metric  Metric
	Since   time.Time
	Until   time.Time
}

// TopRequest selects the owners with the highest latest value.
type TopRequest struct {
	Metric Metric
	Until  time.Time
	Limit  int
}

// Point is one exported value.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// OwnerTotal is the latest exported value of one owner.
type OwnerTotal struct {
	OwnerID int     `json:"owner_id"`
	Name    string  `json:"name"`
	Package string  `json:"package"`
	Value   float64 `json:"value"`
}

// Querier defines the interface for querying exported owner data.
type Querier interface {
	OwnerHistory(ctx context.Context, req HistoryRequest) ([]Point, error)
	TopOwners(ctx context.Context, req TopRequest) ([]OwnerTotal, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := export.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// OwnerHistory returns the exported values of one owner in time order.
func (q *clickhouseQuerier) OwnerHistory(ctx context.Context, req HistoryRequest) ([]Point, error) {
	query, args, err := buildHistoryQuery(req)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute history query: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// TopOwners returns the owners with the highest latest value, highest first.
func (q *clickhouseQuerier) TopOwners(ctx context.Context, req TopRequest) ([]OwnerTotal, error) {
	query, args, err := buildTopQuery(req)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute top query: %w", err)
	}
	defer rows.Close()

	var totals []OwnerTotal
	for rows.Next() {
		var (
			id    uint32
			total OwnerTotal
		)
		if err := rows.Scan(&id, &total.Name, &total.Package, &total.Value); err != nil {
			return nil, fmt.Errorf("failed to scan top row: %w", err)
		}
		total.OwnerID = int(id)
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

func buildHistoryQuery(req HistoryRequest) (string, []interface{}, error) {
	column, err := req.Metric.column()
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT Timestamp, toFloat64(max(%s)) AS Value FROM owner_metrics", column)

	where := []string{"OwnerID = ?"}
	args := []interface{}{uint32(req.OwnerID)}
	if req.Package != "" {
		where = append(where, "Package = ?")
		args = append(args, req.Package)
	}
	if !req.Since.IsZero() {
		where = append(where, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		where = append(where, "Timestamp <= ?")
		args = append(args, req.Until)
	}
	b.WriteString(" WHERE " + strings.Join(where, " AND "))
	b.WriteString(" GROUP BY Timestamp ORDER BY Timestamp")
	return b.String(), args, nil
}

func buildTopQuery(req TopRequest) (string, []interface{}, error) {
	column, err := req.Metric.column()
	if err != nil {
		return "", nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT OwnerID, argMax(Name, Timestamp), Package, toFloat64(argMax(%s, Timestamp)) AS Value FROM owner_metrics", column)
	var args []interface{}
	if !req.Until.IsZero() {
		b.WriteString(" WHERE Timestamp <= ?")
		args = append(args, req.Until)
	}
	fmt.Fprintf(&b, " GROUP BY OwnerID, Package ORDER BY Value DESC LIMIT %d", limit)
	return b.String(), args, nil
}
