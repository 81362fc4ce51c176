package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/r3labs/sse/v2"
	backoffv1 "gopkg.in/cenkalti/backoff.v1"
)

// Requester is asked for a full re-resolve. Event payloads are never applied
// directly since a single row change can reorder the whole playlist.
type Requester interface {
	Request(ctx context.Context) uint64
}

type Mutation struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record,omitempty"`
}

// Subscriber keeps exactly one live subscription to the content table's
// mutation stream and turns every mutation into a re-resolve request.
type Subscriber struct {
	url       string
	table     string
	headers   map[string]string
	client    *http.Client
	requester Requester

	newBackOff func() backoff.BackOff

	m      sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	connected atomic.Bool
	received  atomic.Int64
}

func New(url, table, apiKey string, client *http.Client, requester Requester) *Subscriber {
	if client == nil {
		client = &http.Client{}
	}
	return &Subscriber{
		url:   url,
		table: table,
		headers: map[string]string{
			"apikey":        apiKey,
			"Authorization": "Bearer " + apiKey,
		},
		client:     client,
		requester:  requester,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Subscribe tears down any existing subscription and starts a new one that
// lives until ctx is cancelled or Close is called.
func (s *Subscriber) Subscribe(ctx context.Context) {
	s.m.Lock()
	defer s.m.Unlock()

	s.teardown()

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.run(subCtx)
	}()
}

// Close stops the subscription and waits for it to finish.
func (s *Subscriber) Close() {
	s.m.Lock()
	defer s.m.Unlock()
	s.teardown()
}

// teardown must be called with m held.
func (s *Subscriber) teardown() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.connected.Store(false)
}

func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Received is the number of mutations seen since start.
func (s *Subscriber) Received() int64 {
	return s.received.Load()
}

func (s *Subscriber) run(ctx context.Context) {
	client := sse.NewClient(s.url)
	client.Connection = s.client
	client.Headers = s.headers
	// reconnects are handled below so every connect can be observed
	client.ReconnectStrategy = &backoffv1.StopBackOff{}

	var connectedThisAttempt bool
	client.ResponseValidator = func(c *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("change feed returned %d", resp.StatusCode)
		}
		connectedThisAttempt = true
		s.connected.Store(true)
		slog.Info("Subscribed to change feed", slog.String("table", s.table))
		// anything could have changed while we weren't listening
		s.requester.Request(ctx)
		return nil
	}

	retry := backoff.WithContext(s.newBackOff(), ctx)
	for {
		connectedThisAttempt = false
		err := client.SubscribeWithContext(ctx, s.table, func(msg *sse.Event) {
			s.handle(ctx, msg)
		})
		s.connected.Store(false)
		if ctx.Err() != nil {
			slog.Debug("Change feed subscription closed", slog.String("table", s.table))
			return
		}
		if connectedThisAttempt {
			retry.Reset()
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		attrs := []any{slog.String("table", s.table), slog.Duration("retry_in", wait)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Warn("Change feed disconnected", attrs...)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *sse.Event) {
	if msg == nil || len(msg.Data) == 0 {
		return
	}

	var mutation Mutation
	if err := json.Unmarshal(msg.Data, &mutation); err != nil {
		slog.Warn("Received unreadable change, resolving anyway", slog.String("error", err.Error()))
	} else if mutation.Table != "" && mutation.Table != s.table {
		slog.Debug("Ignoring change for another table", slog.String("table", mutation.Table))
		return
	}

	s.received.Add(1)
	slog.Debug("Received content change",
		slog.String("type", mutation.Type),
		slog.String("table", s.table))
	s.requester.Request(ctx)
}
