package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/store"
)

// TaskError accumulates multiple errors produced during ingestion.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Sink is a named storage collaborator.
type Sink struct {
	Name     string
	Appender store.Appender
}

// Recorder receives per-sink timings. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveAppend(sink string, took time.Duration, err error)
}

// IngestStats summarises one Ingest call.
type IngestStats struct {
	Received int
	Stored   int
	Failed   int
}

// Ingestor streams built transactions into sinks using a worker pool.
// Transactions are sharded by sender, so each sender's records reach every
// sink in the order they were produced.
type Ingestor struct {
	sinks    []Sink
	workers  int
	recorder Recorder
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor with the provided concurrency.
func NewIngestor(sinks []Sink, workers int, recorder Recorder, logger *slog.Logger) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		sinks:    sinks,
		workers:  workers,
		recorder: recorder,
		logger:   logger.With("component", "ingestor"),
	}
}

// Ingest drains seq into every sink. A sequence error stops feeding new
// work and is returned after in-flight records finish; sink failures are
// collected into a TaskError.
func (in *Ingestor) Ingest(ctx context.Context, seq iter.Seq2[domain.Transaction, error]) (IngestStats, error) {
	shards := make([]chan domain.Transaction, in.workers)
	errCh := make(chan error, in.workers)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats IngestStats
	)

	worker := func(ch <-chan domain.Transaction) {
		defer wg.Done()
		for tx := range ch {
			err := in.store(ctx, tx)
			mu.Lock()
			if err != nil {
				stats.Failed++
			} else {
				stats.Stored++
			}
			mu.Unlock()
			if err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	var taskErr TaskError
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for err := range errCh {
			taskErr.append(err)
		}
	}()

	for i := range shards {
		shards[i] = make(chan domain.Transaction, 16)
		wg.Add(1)
		go worker(shards[i])
	}

	var seqErr error
Loop:
	for tx, err := range seq {
		if err != nil {
			seqErr = err
			break
		}
		mu.Lock()
		stats.Received++
		mu.Unlock()
		select {
		case shards[shardFor(tx.SenderID, len(shards))] <- tx:
		case <-ctx.Done():
			break Loop
		}
	}
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	close(errCh)
	<-collected

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if seqErr != nil {
		return stats, fmt.Errorf("build dataset: %w", seqErr)
	}
	in.logger.Info("ingestion finished", "received", stats.Received, "stored", stats.Stored, "failed", stats.Failed)
	return stats, taskErr.asError()
}

func (in *Ingestor) store(ctx context.Context, tx domain.Transaction) error {
	var failed TaskError
	for _, sink := range in.sinks {
		start := time.Now()
		err := sink.Appender.Append(ctx, tx)
		if in.recorder != nil {
			in.recorder.ObserveAppend(sink.Name, time.Since(start), err)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			in.logger.Warn("append failed", "sink", sink.Name, "transaction_id", tx.ID, "error", err)
			failed.append(fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return failed.asError()
}

func shardFor(senderID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return int(h.Sum32() % uint32(n))
}
