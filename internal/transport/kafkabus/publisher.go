// Package kafkabus publishes report envelopes to a Kafka topic, keyed by actor
// so one actor's reports stay ordered within a partition.
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"voxelwatch.ai/internal/track/report"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Stats struct {
	PublishedTotal uint64
	ErrorTotal     uint64
}

// Publisher is a report.Sink. Emit blocks on the broker round trip, so
// callers put it behind report.Async.
type Publisher struct {
	w      MessageWriter
	topic  string
	logger *log.Logger

	published atomic.Uint64
	errs      atomic.Uint64
}

// NewWriter builds the writer the tracker uses in production.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
}

func NewPublisher(w MessageWriter, topic string, logger *log.Logger) *Publisher {
	return &Publisher{w: w, topic: topic, logger: logger}
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (p *Publisher) Emit(e report.Envelope) {
	msg, err := Message(e)
	if err != nil {
		p.fail(e, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.fail(e, err)
		return
	}
	p.published.Add(1)
}

// Message encodes one envelope. The key is the actor id; the report type
// travels as a header so consumers can filter without decoding.
func Message(e report.Envelope) (kafka.Message, error) {
	if e.ActorID == "" {
		return kafka.Message{}, errors.New("envelope without actor id")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.ActorID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "report_id", Value: []byte(e.ID)},
		},
	}, nil
}

func (p *Publisher) Stats() Stats {
	return Stats{PublishedTotal: p.published.Load(), ErrorTotal: p.errs.Load()}
}

func (p *Publisher) Close() error { return p.w.Close() }

func (p *Publisher) fail(e report.Envelope, err error) {
	n := p.errs.Add(1)
	if p.logger != nil && (n == 1 || n%1000 == 0) {
		p.logger.Printf("kafka publish failed topic=%s id=%s errors=%d: %v", p.topic, e.ID, n, err)
	}
}
