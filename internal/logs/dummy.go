package logs

import (
	"context"
	"time"
)

var dummyBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type dummyLine struct {
	level   string
	logger  string
	message string
}

var dummyTrace = []dummyLine{
	{"INFO", "com.example.api.Gateway", "Received request with correlation "},
	{"INFO", "com.example.service.UserService", "Calling UserService.getUserDetails"},
	{"WARN", "com.example.cache.UserCache", "Cache miss for userId=42"},
	{"ERROR", "com.example.assembler.UserAssembler", "NullPointerException at UserAssembler.map(User.java:87)"},
	{"INFO", "com.example.api.Gateway", "Request completed with status=500"},
}

// Dummy replays a fixed five-event failing request for any correlation id.
type Dummy struct{}

func NewDummy() *Dummy {
	return &Dummy{}
}

func (d *Dummy) Fetch(ctx context.Context, correlationID string) ([]Event, error) {
	if correlationID == "" {
		return []Event{}, nil
	}
	events := make([]Event, 0, len(dummyTrace))
	for i, l := range dummyTrace {
		msg := l.message
		if i == 0 {
			msg += correlationID
		}
		events = append(events, Event{
			Timestamp:     dummyBase.Add(time.Duration(i) * time.Second),
			Level:         l.level,
			Logger:        l.logger,
			Message:       msg,
			CorrelationID: correlationID,
		})
	}
	return events, nil
}
