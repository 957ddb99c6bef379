package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	"TrapFlow/internal/domain/repository"
)

// EventStore is the raw persistence surface beneath the journal. The journal
// wrapper adds retry, dead-lettering and the degraded-health flag on top.
type EventStore interface {
	Insert(ctx context.Context, e *models.TrapEvent) error
	Query(ctx context.Context, f repository.EventFilter) (repository.EventCursor, error)
	Count(ctx context.Context, f repository.EventFilter) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// ClickHouseEventStore persists trap events into a single MergeTree table.
type ClickHouseEventStore struct {
	db    *sql.DB
	table string
}

func NewClickHouseEventStore(db *sql.DB, table string) *ClickHouseEventStore {
	return &ClickHouseEventStore{db: db, table: table}
}

// SchemaStatements returns idempotent DDL for the event table.
func SchemaStatements(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			id String,
			detected_at DateTime64(3, 'UTC'),
			trap_type LowCardinality(String),
			timeframe LowCardinality(String),
			source LowCardinality(String),
			confidence Float64,
			price Decimal(18, 8),
			price_change_pct Float64,
			ref_start DateTime64(3, 'UTC'),
			ref_end DateTime64(3, 'UTC'),
			ref_price Decimal(18, 8),
			indicators String,
			raw_features String
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(detected_at)
		ORDER BY (detected_at, id)`, database, table),
	}
}

const eventColumns = "id, detected_at, trap_type, timeframe, source, confidence, price, price_change_pct, ref_start, ref_end, ref_price, indicators, raw_features"

func (s *ClickHouseEventStore) Insert(ctx context.Context, e *models.TrapEvent) error {
	indicators, err := json.Marshal(e.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	raw, err := json.Marshal(e.RawFeatures)
	if err != nil {
		return fmt.Errorf("marshal raw features: %w", err)
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, eventColumns)
	_, err = s.db.ExecContext(ctx, q,
		e.ID,
		e.DetectedAt.UTC(),
		string(e.TrapType),
		string(e.Timeframe),
		eventSource(e),
		e.Confidence,
		e.PriceAtDetection,
		e.PriceChangePct,
		e.ReferenceWindow.StartTS.UTC(),
		e.ReferenceWindow.EndTS.UTC(),
		e.ReferenceWindow.ReferencePrice,
		string(indicators),
		string(raw),
	)
	return err
}

// eventSource pulls the feed source tag out of the raw feature map.
func eventSource(e *models.TrapEvent) string {
	if v, ok := e.RawFeatures["tick_source"].(string); ok {
		return v
	}
	return ""
}

func (s *ClickHouseEventStore) Query(ctx context.Context, f repository.EventFilter) (repository.EventCursor, error) {
	where, args := buildWhere(f)
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY detected_at ASC", eventColumns, s.table, where)
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return &eventCursor{rows: rows}, nil
}

func (s *ClickHouseEventStore) Count(ctx context.Context, f repository.EventFilter) (int64, error) {
	where, args := buildWhere(f)
	q := fmt.Sprintf("SELECT count() FROM %s%s", s.table, where)
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *ClickHouseEventStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseEventStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}

func buildWhere(f repository.EventFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if !f.From.IsZero() {
		conds = append(conds, "detected_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		conds = append(conds, "detected_at < ?")
		args = append(args, f.To.UTC())
	}
	if len(f.TrapTypes) > 0 {
		ph := make([]string, len(f.TrapTypes))
		for i, t := range f.TrapTypes {
			ph[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, fmt.Sprintf("trap_type IN (%s)", strings.Join(ph, ", ")))
	}
	if len(f.Timeframes) > 0 {
		ph := make([]string, len(f.Timeframes))
		for i, tf := range f.Timeframes {
			ph[i] = "?"
			args = append(args, string(tf))
		}
		conds = append(conds, fmt.Sprintf("timeframe IN (%s)", strings.Join(ph, ", ")))
	}
	if f.MinConfidence > 0 {
		conds = append(conds, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type eventCursor struct {
	rows *sql.Rows
	cur  *models.TrapEvent
	err  error
}

func (c *eventCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	e, err := scanEvent(c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = e
	return true
}

func (c *eventCursor) Event() *models.TrapEvent { return c.cur }

func (c *eventCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *eventCursor) Close() error { return c.rows.Close() }

func scanEvent(rows *sql.Rows) (*models.TrapEvent, error) {
	var (
		e                models.TrapEvent
		trapType, tf     string
		source           string
		detectedAt       time.Time
		refStart, refEnd time.Time
		price, refPrice  decimal.Decimal
		indicators, raw  string
	)
	if err := rows.Scan(
		&e.ID, &detectedAt, &trapType, &tf, &source,
		&e.Confidence, &price, &e.PriceChangePct,
		&refStart, &refEnd, &refPrice,
		&indicators, &raw,
	); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	e.DetectedAt = detectedAt.UTC()
	e.TrapType = models.TrapType(trapType)
	e.Timeframe = models.Timeframe(tf)
	e.PriceAtDetection = price
	e.ReferenceWindow = models.ReferenceWindow{
		StartTS:        refStart.UTC(),
		EndTS:          refEnd.UTC(),
		ReferencePrice: refPrice,
	}
	if indicators != "" {
		if err := json.Unmarshal([]byte(indicators), &e.Indicators); err != nil {
			return nil, fmt.Errorf("unmarshal indicators: %w", err)
		}
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.RawFeatures); err != nil {
			return nil, fmt.Errorf("unmarshal raw features: %w", err)
		}
	}
	return &e, nil
}
