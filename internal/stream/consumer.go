package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/store"
)

// Handler decodes transaction messages into an Appender. Duplicates are
// acknowledged and dropped since NSQ delivers at least once.
type Handler struct {
	sink   store.Appender
	logger *slog.Logger
}

// NewHandler wraps sink.
func NewHandler(sink store.Appender, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sink: sink, logger: logger.With("component", "stream")}
}

// HandleMessage implements nsq.Handler.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	return h.handle(context.Background(), m.Body)
}

func (h *Handler) handle(ctx context.Context, body []byte) error {
	var tx domain.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		// Malformed payloads will never decode; drop instead of requeueing.
		h.logger.Warn("dropping undecodable message", "error", err)
		return nil
	}
	err := h.sink.Append(ctx, tx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicate):
		h.logger.Debug("duplicate delivery", "transaction_id", tx.ID)
		return nil
	case errors.Is(err, store.ErrNotFinalized):
		h.logger.Warn("dropping non-terminal transaction", "transaction_id", tx.ID, "state", tx.State)
		return nil
	default:
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
}

// Consumer subscribes a Handler to a topic.
type Consumer struct {
	consumer *nsq.Consumer
}

// NewConsumer connects to nsqd at address and starts delivering messages
// from topic/channel to h.
func NewConsumer(address, topic, channel string, h *Handler) (*Consumer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	consumer, err := nsq.NewConsumer(topic, channel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq consumer: %w", err)
	}
	consumer.AddHandler(h)
	if err := consumer.ConnectToNSQD(address); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect to nsqd %s: %w", address, err)
	}
	return &Consumer{consumer: consumer}, nil
}

// Stop drains in-flight messages and waits for the consumer to exit.
func (c *Consumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}
