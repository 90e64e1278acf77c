// Package stream moves finalized transactions over NSQ.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/vanshika/upiscope/internal/domain"
)

// DefaultTopic carries finalized, scored transactions.
const DefaultTopic = "upi_transactions"

// publisher is the subset of *nsq.Producer the Publisher uses.
type publisher interface {
	Publish(topic string, body []byte) error
	Ping() error
	Stop()
}

// Publisher is a storage collaborator that emits each appended
// transaction as a JSON message.
type Publisher struct {
	producer publisher
	topic    string
}

// NewPublisher connects to nsqd at address and pings it.
func NewPublisher(address, topic string) (*Publisher, error) {
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("ping nsqd %s: %w", address, err)
	}
	return newPublisher(producer, topic), nil
}

func newPublisher(p publisher, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: p, topic: topic}
}

// Append publishes tx. Publishing is synchronous: it returns once nsqd has
// acknowledged the message.
func (p *Publisher) Append(ctx context.Context, tx domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", tx.ID, err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("publish transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Ping checks the nsqd connection.
func (p *Publisher) Ping(context.Context) error {
	return p.producer.Ping()
}

// Stop gracefully stops the producer.
func (p *Publisher) Stop() {
	p.producer.Stop()
}
