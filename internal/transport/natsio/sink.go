package natsio

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/roach88/stampsync/internal/ir"
)

// Headers set on published matches.
const (
	MatchIDHeader = "Match-Id"
	SpreadHeader  = "Spread"
)

// MatchMessage is the JSON body published for a match.
type MatchMessage struct {
	RunID  string `json:"run_id"`
	Spread int64  `json:"spread"`
	ir.Match
}

// DropMessage is the JSON body published for a drop.
type DropMessage struct {
	RunID string `json:"run_id"`
	ir.Drop
}

// Sink publishes matches, and optionally drops, for one run.
type Sink struct {
	nc           *nats.Conn
	runID        string
	matchSubject string
	dropSubject  string
}

// NewSink creates a sink. An empty dropSubject disables drop publishing.
func NewSink(nc *nats.Conn, runID, matchSubject, dropSubject string) *Sink {
	return &Sink{
		nc:           nc,
		runID:        runID,
		matchSubject: matchSubject,
		dropSubject:  dropSubject,
	}
}

// PublishMatch publishes one match.
func (s *Sink) PublishMatch(m ir.Match) error {
	data, err := json.Marshal(MatchMessage{RunID: s.runID, Spread: m.Spread(), Match: m})
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.ID, err)
	}
	msg := &nats.Msg{
		Subject: s.matchSubject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(MatchIDHeader, m.ID)
	msg.Header.Set(SpreadHeader, strconv.FormatInt(m.Spread(), 10))
	msg.Header.Set("Content-Type", "application/json")
	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish match %s: %w", m.ID, err)
	}
	return nil
}

// PublishDrop publishes one drop. A no-op without a drop subject.
func (s *Sink) PublishDrop(d ir.Drop) error {
	if s.dropSubject == "" {
		return nil
	}
	data, err := json.Marshal(DropMessage{RunID: s.runID, Drop: d})
	if err != nil {
		return fmt.Errorf("encode drop %s: %w", d.Sample.ID, err)
	}
	if err := s.nc.Publish(s.dropSubject, data); err != nil {
		return fmt.Errorf("publish drop %s: %w", d.Sample.ID, err)
	}
	return nil
}

// MatchHandler adapts PublishMatch for engine.WithMatchHandler. Failures
// are logged.
func (s *Sink) MatchHandler() func(ir.Match) {
	return func(m ir.Match) {
		if err := s.PublishMatch(m); err != nil {
			slog.Error("nats publish failed", "run", s.runID, "error", err)
		}
	}
}

// DropHandler adapts PublishDrop for engine.WithDropHandler.
func (s *Sink) DropHandler() func(ir.Drop) {
	return func(d ir.Drop) {
		if err := s.PublishDrop(d); err != nil {
			slog.Error("nats publish failed", "run", s.runID, "error", err)
		}
	}
}
