// Package events mirrors session lifecycle changes onto NATS subjects so
// external observers can follow a conversion without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/neurodataworks/conversant/session"
)

// Subjects published by the engine.
const (
	SubjectStatus = "conversant.session.status"
	SubjectFinal  = "conversant.session.final"
)

// Publisher mirrors session snapshots onto NATS. A nil *Publisher disables
// event publishing; every method is nil-safe. Publish failures are logged,
// never propagated — the event mirror must not affect the pipeline.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect dials the NATS server and returns a publisher.
func Connect(url string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("conversant"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Publisher{nc: nc, logger: logger}, nil
}

// PublishStatus mirrors a status change.
func (p *Publisher) PublishStatus(snap session.Snapshot) {
	p.publish(SubjectStatus, snap)
}

// PublishFinal mirrors a terminal session snapshot.
func (p *Publisher) PublishFinal(snap session.Snapshot) {
	p.publish(SubjectFinal, snap)
}

func (p *Publisher) publish(subject string, snap session.Snapshot) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		p.logger.Warn("Failed to encode session event", "subject", subject, "error", err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish session event", "subject", subject, "error", err)
	}
}

// Close flushes pending events and drops the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", "error", err)
	}
	p.nc.Close()
}
