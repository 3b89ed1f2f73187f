package logs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"logrca/internal/fault"
)

// Influx reads events from a measurement where the correlation id is a tag
// and level, logger and message are fields.
type Influx struct {
	query       api.QueryAPI
	bucket      string
	measurement string
	cols        Columns
}

func NewInflux(q api.QueryAPI, bucket, measurement string, cols Columns) *Influx {
	return &Influx{query: q, bucket: bucket, measurement: measurement, cols: cols}
}

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)

func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

func (f *Influx) flux(correlationID string) string {
	return fmt.Sprintf(`
		from(bucket: %s)
		  |> range(start: 0)
		  |> filter(fn: (r) => r._measurement == %s)
		  |> filter(fn: (r) => r[%s] == %s)
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, fluxString(f.bucket), fluxString(f.measurement), fluxString(f.cols.CorrelationID), fluxString(correlationID))
}

func (f *Influx) Fetch(ctx context.Context, correlationID string) ([]Event, error) {
	if correlationID == "" {
		return []Event{}, nil
	}

	result, err := f.query.Query(ctx, f.flux(correlationID))
	if err != nil {
		return nil, fault.New(fault.KindIO, "influx.fetch", err)
	}
	defer result.Close()

	events := []Event{}
	for result.Next() {
		record := result.Record()
		e := Event{
			Timestamp:     record.Time(),
			Level:         stringValue(record.ValueByKey(f.cols.Level)),
			Logger:        stringValue(record.ValueByKey(f.cols.Logger)),
			Message:       stringValue(record.ValueByKey(f.cols.Message)),
			CorrelationID: stringValue(record.ValueByKey(f.cols.CorrelationID)),
		}
		if e.CorrelationID == "" {
			e.CorrelationID = correlationID
		}
		events = append(events, e)
	}
	if result.Err() != nil {
		return nil, fault.New(fault.KindIO, "influx.read", result.Err())
	}

	sortByTime(events)
	slog.DebugContext(ctx, "fetched logs from influx", "correlation_id", correlationID, "count", len(events))
	return events, nil
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
