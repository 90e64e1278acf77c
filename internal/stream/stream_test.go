package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/store"
)

type fakeProducer struct {
	topics  []string
	bodies  [][]byte
	err     error
	stopped bool
}

func (f *fakeProducer) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeProducer) Ping() error { return f.err }
func (f *fakeProducer) Stop()       { f.stopped = true }

func finalTx(id string) domain.Transaction {
	ts := time.Date(2025, 8, 15, 9, 0, 0, 0, time.UTC)
	done := ts.Add(time.Second)
	return domain.Transaction{
		ID: id, SenderID: "USR-1", ReceiverID: "irctc@oksbi", Amount: 845,
		Currency: "INR", Timestamp: ts, State: domain.StateSettled, SettledAt: &done,
		AnomalyReasons: []string{},
	}
}

func TestPublisher_Append(t *testing.T) {
	fp := &fakeProducer{}
	p := newPublisher(fp, "")

	require.NoError(t, p.Append(context.Background(), finalTx("tx-1")))
	require.Len(t, fp.bodies, 1)
	assert.Equal(t, DefaultTopic, fp.topics[0])

	var decoded domain.Transaction
	require.NoError(t, json.Unmarshal(fp.bodies[0], &decoded))
	assert.Equal(t, "tx-1", decoded.ID)
	assert.Equal(t, 845.0, decoded.Amount)

	p.Stop()
	assert.True(t, fp.stopped)
}

func TestPublisher_Errors(t *testing.T) {
	boom := errors.New("nsqd gone")
	p := newPublisher(&fakeProducer{err: boom}, "custom")
	assert.ErrorIs(t, p.Append(context.Background(), finalTx("tx-1")), boom)
	assert.ErrorIs(t, p.Ping(context.Background()), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, newPublisher(&fakeProducer{}, "").Append(ctx, finalTx("tx-1")), context.Canceled)
}

func TestHandler_RoundTripIntoMemory(t *testing.T) {
	mem := store.NewMemory()
	h := NewHandler(mem, nil)

	body, err := json.Marshal(finalTx("tx-1"))
	require.NoError(t, err)

	require.NoError(t, h.HandleMessage(&nsq.Message{Body: body}))
	// Redelivery is acknowledged.
	require.NoError(t, h.HandleMessage(&nsq.Message{Body: body}))
	assert.Equal(t, 1, mem.Len())

	got, err := mem.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "irctc@oksbi", got.ReceiverID)
}

func TestHandler_DropsBadPayloads(t *testing.T) {
	mem := store.NewMemory()
	h := NewHandler(mem, nil)

	assert.NoError(t, h.HandleMessage(&nsq.Message{Body: []byte("{not json")}))

	pending := finalTx("tx-2")
	pending.State = domain.StateProcessing
	body, _ := json.Marshal(pending)
	assert.NoError(t, h.HandleMessage(&nsq.Message{Body: body}))
	assert.Zero(t, mem.Len())
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, domain.Transaction) error { return f.err }

func TestHandler_RequeuesOnSinkFailure(t *testing.T) {
	boom := errors.New("redis down")
	h := NewHandler(failingSink{err: boom}, nil)
	body, _ := json.Marshal(finalTx("tx-3"))
	assert.ErrorIs(t, h.HandleMessage(&nsq.Message{Body: body}), boom)
}

type flakySink struct {
	failures int
	received []string
}

func (f *flakySink) Append(_ context.Context, tx domain.Transaction) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("redis timeout")
	}
	f.received = append(f.received, tx.ID)
	return nil
}

func TestHandler_RedeliveryCompletesPartialFanout(t *testing.T) {
	mem := store.NewMemory()
	mirror := &flakySink{failures: 1}
	h := NewHandler(store.Fanout{mem, mirror}, nil)
	body, err := json.Marshal(finalTx("tx-4"))
	require.NoError(t, err)

	require.Error(t, h.HandleMessage(&nsq.Message{Body: body}), "first delivery is requeued")
	require.NoError(t, h.HandleMessage(&nsq.Message{Body: body}))
	assert.Equal(t, []string{"tx-4"}, mirror.received)
	assert.Equal(t, 1, mem.Len())
}
