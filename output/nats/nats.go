// Package nats publishes completed telemetry records as JSON messages,
// letting downstream consumers subscribe to the assembled stream instead of
// tailing the CSV file.
package nats

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/PauloFidalgo/cmov-5g/errors"
	"github.com/PauloFidalgo/cmov-5g/natsclient"
	"github.com/PauloFidalgo/cmov-5g/schema"
)

// Config holds configuration for the NATS sink
type Config struct {
	URL     string `json:"url"     yaml:"url"`     // NATS server URL
	Subject string `json:"subject" yaml:"subject"` // publish subject
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject is required")
	}
	return nil
}

// DefaultConfig returns default configuration for the NATS sink
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Subject: "telemetry.kpm",
	}
}

// Publisher is a Sink publishing each record as a JSON object keyed by
// output column. Publish failures are returned to the assembler, which
// treats them as fatal; the record stream must not silently diverge from
// what subscribers saw.
type Publisher struct {
	client    *natsclient.Client
	subject   string
	logger    *slog.Logger
	published atomic.Int64
}

// NewPublisher wraps an existing client. The caller owns the client's
// lifecycle; Close only flushes.
func NewPublisher(client *natsclient.Client, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "nats_output")
	}
	return &Publisher{
		client:  client,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Emit implements assembler.Sink
func (p *Publisher) Emit(rec schema.Record) error {
	payload, err := json.Marshal(rec.Map())
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "Emit", "marshal record")
	}

	if err := p.client.Publish(p.subject, payload); err != nil {
		return errors.Wrap(err, "Publisher", "Emit", "publish record")
	}
	p.published.Add(1)
	return nil
}

// Published returns the number of records published so far
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Close flushes pending messages to the server
func (p *Publisher) Close() error {
	if err := p.client.Flush(); err != nil {
		return errors.Wrap(err, "Publisher", "Close", "flush pending messages")
	}
	p.logger.Debug("nats publisher closed", "published", p.published.Load())
	return nil
}
