// Package logs fetches the log events that share a correlation id.
//
// Three sources exist: a fixed dummy trace for demos, a Postgres table and an
// InfluxDB measurement. Every source returns events ordered by timestamp.
package logs

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"logrca/internal/config"
)

// Event is one log line tied to a request.
type Event struct {
	Timestamp     time.Time `json:"ts"`
	Level         string    `json:"level"`
	Logger        string    `json:"logger"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id"`
}

type Fetcher interface {
	Fetch(ctx context.Context, correlationID string) ([]Event, error)
}

// Columns names the columns (or Influx fields and tags) events are read from.
type Columns struct {
	Timestamp     string
	Level         string
	Logger        string
	Message       string
	CorrelationID string
}

func columnsFrom(cfg *config.Config) Columns {
	return Columns{
		Timestamp:     cfg.ColTimestamp,
		Level:         cfg.ColLevel,
		Logger:        cfg.ColLogger,
		Message:       cfg.ColMessage,
		CorrelationID: cfg.ColCorrelationID,
	}
}

// New selects the fetcher for cfg. The dummy trace is served when
// USE_DUMMY_LOGS is set or the configured store lacks its connection settings.
func New(cfg *config.Config, db *sql.DB, influx api.QueryAPI) Fetcher {
	if cfg.UseDummyLogs || !cfg.LogStoreConfigured() {
		return NewDummy()
	}
	switch cfg.LogStore {
	case "influx":
		if influx != nil {
			return NewInflux(influx, cfg.InfluxBucket, cfg.InfluxMeasurement, columnsFrom(cfg))
		}
	default:
		if db != nil {
			return NewPostgres(db, cfg.LogTable, columnsFrom(cfg))
		}
	}
	return NewDummy()
}

func sortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
