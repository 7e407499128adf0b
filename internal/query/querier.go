package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"NetUnivMon/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// TaskSummary aggregates the persisted metrics of one task.
type TaskSummary struct {
	TaskName     string `json:"task_name"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	FlowCount    uint64 `json:"flow_count"`
}

// FlowLifecycle describes the observed lifetime of a single flow.
type FlowLifecycle struct {
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	TotalPackets uint64    `json:"total_packets"`
	TotalBytes   uint64    `json:"total_bytes"`
}

// HeavyHitter is one persisted heavy hitter row.
type HeavyHitter struct {
	Timestamp time.Time `json:"timestamp"`
	TaskName  string    `json:"task_name"`
	Flow      string    `json:"flow"`
	Count     int64     `json:"count"`
}

// Querier defines the interface for querying persisted flow data.
type Querier interface {
	AggregateFlows(ctx context.Context, taskName string, endTime time.Time) ([]TaskSummary, error)
	TraceFlow(ctx context.Context, taskName string, flowKeys map[string]string, endTime time.Time) (*FlowLifecycle, error)
	QueryHeavyHitters(ctx context.Context, taskName string, endTime time.Time, limit int) ([]HeavyHitter, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
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

// AggregateFlows builds and executes a dynamic aggregation query over the
// exact aggregator's flow_metrics table.
func (q *clickhouseQuerier) AggregateFlows(ctx context.Context, taskName string, endTime time.Time) ([]TaskSummary, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			TaskName,
			SUM(LatestByteCount) AS TotalBytes,
			SUM(LatestPacketCount) AS TotalPackets,
			COUNT(*) AS FlowCount
		FROM (
			SELECT
				TaskName,
				argMax(ByteCount, Timestamp) AS LatestByteCount,
				argMax(PacketCount, Timestamp) AS LatestPacketCount
			FROM flow_metrics
	`)

	var whereClauses []string
	args := []interface{}{}

	if !endTime.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, endTime)
	}
	if taskName != "" {
		whereClauses = append(whereClauses, "TaskName = ?")
		args = append(args, taskName)
	}

	if len(whereClauses) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	}

	queryBuilder.WriteString(`
			GROUP BY TaskName, SrcIP, DstIP, SrcPort, DstPort, Protocol
		)
		GROUP BY TaskName
	`)

	rows, err := q.conn.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []TaskSummary
	for rows.Next() {
		var summary TaskSummary
		if err := rows.Scan(&summary.TaskName, &summary.TotalBytes, &summary.TotalPackets, &summary.FlowCount); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation result: %w", err)
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// TraceFlow executes a query to trace the lifecycle of a single flow.
func (q *clickhouseQuerier) TraceFlow(ctx context.Context, taskName string, flowKeys map[string]string, endTime time.Time) (*FlowLifecycle, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			min(StartTime) AS FirstSeen,
			max(EndTime) AS LastSeen,
			max(PacketCount) AS TotalPackets,
			max(ByteCount) AS TotalBytes
		FROM flow_metrics
	`)

	whereClauses := []string{"TaskName = ?"}
	args := []interface{}{taskName}

	for key, value := range flowKeys {
		// Basic validation to prevent arbitrary column injection
		switch key {
		case "SrcIP", "DstIP", "SrcPort", "DstPort", "Protocol":
			whereClauses = append(whereClauses, fmt.Sprintf("%s = ?", key))
			args = append(args, value)
		default:
			return nil, fmt.Errorf("unsupported flow key: %s, only SrcIP, DstIP, SrcPort, DstPort, Protocol are allowed", key)
		}
	}

	if !endTime.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, endTime)
	}

	queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))

	var result FlowLifecycle
	row := q.conn.QueryRow(ctx, queryBuilder.String(), args...)
	if err := row.Scan(&result.FirstSeen, &result.LastSeen, &result.TotalPackets, &result.TotalBytes); err != nil {
		return nil, fmt.Errorf("failed to scan flow lifecycle result: %w", err)
	}

	return &result, nil
}

// QueryHeavyHitters returns the most recent persisted heavy hitters for a
// sketch task.
func (q *clickhouseQuerier) QueryHeavyHitters(ctx context.Context, taskName string, endTime time.Time, limit int) ([]HeavyHitter, error) {
	if limit <= 0 {
		limit = 100
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT Timestamp, TaskName, Flow, Count
		FROM heavy_hitters
		WHERE TaskName = ?
	`)
	args := []interface{}{taskName}

	if !endTime.IsZero() {
		queryBuilder.WriteString(" AND Timestamp <= ?")
		args = append(args, endTime)
	}

	queryBuilder.WriteString(" ORDER BY Timestamp DESC, Count DESC LIMIT ?")
	args = append(args, limit)

	rows, err := q.conn.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var hitters []HeavyHitter
	for rows.Next() {
		var h HeavyHitter
		if err := rows.Scan(&h.Timestamp, &h.TaskName, &h.Flow, &h.Count); err != nil {
			return nil, fmt.Errorf("failed to scan heavy hitter result: %w", err)
		}
		hitters = append(hitters, h)
	}

	return hitters, nil
}
