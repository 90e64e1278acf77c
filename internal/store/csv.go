package store

import (
	"context"
	"encoding/csv"
	"io"
	"sync"

	"github.com/vanshika/upiscope/internal/domain"
)

// CSVSink streams transactions as flat rows. The header is written before
// the first row. Call Flush once the stream is complete.
type CSVSink struct {
	mu            sync.Mutex
	w             *csv.Writer
	headerWritten bool
}

// NewCSVSink wraps w.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// Append implements Appender.
func (s *CSVSink) Append(_ context.Context, tx domain.Transaction) error {
	if err := checkFinalized(tx); err != nil {
		return err
	}
	return s.Write(tx)
}

// Write emits one row without the terminal-state check.
func (s *CSVSink) Write(tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.headerWritten {
		if err := s.w.Write(domain.RowHeader); err != nil {
			return err
		}
		s.headerWritten = true
	}
	return s.w.Write(tx.Row())
}

// Flush writes buffered rows to the underlying writer.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.headerWritten {
		if err := s.w.Write(domain.RowHeader); err != nil {
			return err
		}
		s.headerWritten = true
	}
	s.w.Flush()
	return s.w.Error()
}
