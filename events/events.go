package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/r3labs/sse/v2"
)

// Broker is the local event stream that status clients subscribe to.
type Broker struct {
	server *sse.Server

	SessionsSeen   atomic.Int64
	ActiveSessions atomic.Int64
}

func New(streams ...string) *Broker {
	b := &Broker{}
	server := sse.NewWithCallback(
		func(streamID string, sub *sse.Subscriber) {
			b.SessionsSeen.Add(1)
			b.ActiveSessions.Add(1)
		},
		func(streamID string, sub *sse.Subscriber) {
			b.ActiveSessions.Add(-1)
		},
	)
	server.AutoReplay = false
	for _, stream := range streams {
		server.CreateStream(stream)
	}
	b.server = server
	return b
}

// Publish sends payload as JSON to everyone on stream. Nobody listening is
// not an error.
func (b *Broker) Publish(stream string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to encode event",
			slog.String("stream", stream),
			slog.String("error", err.Error()))
		return
	}
	b.server.Publish(stream, &sse.Event{Data: data})
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.server.ServeHTTP(w, r)
}

func (b *Broker) Close() {
	b.server.Close()
}
