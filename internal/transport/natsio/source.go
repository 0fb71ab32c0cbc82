// Package natsio connects an engine to NATS: a Source turns messages on
// per-stream subjects into arrivals, a Sink publishes matches and drops.
package natsio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/stampsync/internal/ir"
)

// StampHeader overrides the body's stamp when present.
const StampHeader = "Stamp"

// Submitter accepts arrivals. *engine.Engine satisfies it.
type Submitter interface {
	Submit(a ir.Arrival) error
}

// Source subscribes to <prefix>.<stream> for every stream of a topology and
// submits each message as an arrival.
//
// Message body: {"stamp": <int>, "payload": {...}}. Both fields are
// optional when the Stamp header is set. Malformed messages are logged and
// skipped.
type Source struct {
	nc           *nats.Conn
	prefix       string
	streams      []string
	target       Submitter
	flushTimeout time.Duration

	mu      sync.Mutex
	subs    []*nats.Subscription
	skipped atomic.Int64
}

// NewSource creates a source. Nothing is subscribed until Start.
func NewSource(nc *nats.Conn, prefix string, streams []string, target Submitter) *Source {
	return &Source{
		nc:           nc,
		prefix:       prefix,
		streams:      streams,
		target:       target,
		flushTimeout: 2 * time.Second,
	}
}

// Subject returns the subject a stream is read from.
func (s *Source) Subject(stream string) string {
	return s.prefix + "." + stream
}

// Start subscribes to every stream subject and flushes the subscriptions
// to the server.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) > 0 {
		return fmt.Errorf("source already started")
	}
	for _, stream := range s.streams {
		sub, err := s.nc.Subscribe(s.Subject(stream), s.handler(stream))
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", s.Subject(stream), err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.FlushTimeout(s.flushTimeout); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	slog.Info("nats source started", "prefix", s.prefix, "streams", len(s.streams))
	return nil
}

// Stop removes every subscription.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
}

func (s *Source) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

// Skipped returns the number of messages dropped as malformed or refused.
func (s *Source) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Source) handler(stream string) nats.MsgHandler {
	return func(m *nats.Msg) {
		a, err := DecodeArrival(stream, m)
		if err == nil {
			err = s.target.Submit(a)
		}
		if err != nil {
			s.skipped.Add(1)
			slog.Warn("nats message skipped",
				"subject", m.Subject,
				"stream", stream,
				"error", err,
			)
		}
	}
}

type arrivalBody struct {
	Stamp   *json.Number   `json:"stamp"`
	Payload map[string]any `json:"payload"`
}

// DecodeArrival builds an arrival for stream from a message.
func DecodeArrival(stream string, m *nats.Msg) (ir.Arrival, error) {
	a := ir.Arrival{Stream: stream}

	var body arrivalBody
	if len(bytes.TrimSpace(m.Data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(m.Data))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return ir.Arrival{}, fmt.Errorf("decode body: %w", err)
		}
	}

	payload, err := ir.PayloadFromMap(body.Payload)
	if err != nil {
		return ir.Arrival{}, fmt.Errorf("payload: %w", err)
	}
	a.Payload = payload

	if h := m.Header.Get(StampHeader); h != "" {
		stamp, err := strconv.ParseInt(h, 10, 64)
		if err != nil {
			return ir.Arrival{}, fmt.Errorf("%s header %q: %w", StampHeader, h, err)
		}
		a.Stamp = stamp
		return a, nil
	}

	if body.Stamp == nil {
		return ir.Arrival{}, fmt.Errorf("message has no stamp")
	}
	stamp, err := body.Stamp.Int64()
	if err != nil {
		return ir.Arrival{}, fmt.Errorf("stamp %q is not an integer", body.Stamp.String())
	}
	a.Stamp = stamp
	return a, nil
}
