package logs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"logrca/internal/fault"
)

// Postgres reads events from a table with configurable column names.
type Postgres struct {
	db    *sql.DB
	query string
}

func NewPostgres(db *sql.DB, table string, cols Columns) *Postgres {
	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s FROM %s WHERE %s = $1 ORDER BY %s ASC",
		pq.QuoteIdentifier(cols.Timestamp),
		pq.QuoteIdentifier(cols.Level),
		pq.QuoteIdentifier(cols.Logger),
		pq.QuoteIdentifier(cols.Message),
		pq.QuoteIdentifier(cols.CorrelationID),
		quoteTable(table),
		pq.QuoteIdentifier(cols.CorrelationID),
		pq.QuoteIdentifier(cols.Timestamp),
	)
	return &Postgres{db: db, query: query}
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (p *Postgres) Fetch(ctx context.Context, correlationID string) ([]Event, error) {
	if correlationID == "" {
		return []Event{}, nil
	}

	rows, err := p.db.QueryContext(ctx, p.query, correlationID)
	if err != nil {
		return nil, fault.New(fault.KindIO, "postgres.fetch", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var level, logger, message, cid sql.NullString
		if err := rows.Scan(&e.Timestamp, &level, &logger, &message, &cid); err != nil {
			return nil, fault.New(fault.KindIO, "postgres.scan", err)
		}
		e.Level = level.String
		e.Logger = logger.String
		e.Message = message.String
		e.CorrelationID = cid.String
		if e.CorrelationID == "" {
			e.CorrelationID = correlationID
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.KindIO, "postgres.rows", err)
	}

	sortByTime(events)
	slog.DebugContext(ctx, "fetched logs from postgres", "correlation_id", correlationID, "count", len(events))
	return events, nil
}
