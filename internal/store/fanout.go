package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanshika/upiscope/internal/domain"
)

// Fanout appends each transaction to every wrapped appender in order and
// stops at the first failure. A sink that already holds the record counts as
// applied, so a redelivery after a partial failure reaches the sinks that
// missed it. ErrDuplicate is returned only when every sink already had it.
type Fanout []Appender

// Append implements Appender.
func (f Fanout) Append(ctx context.Context, tx domain.Transaction) error {
	duplicates := 0
	for i, a := range f {
		err := a.Append(ctx, tx)
		switch {
		case err == nil:
		case errors.Is(err, ErrDuplicate):
			duplicates++
		default:
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	if len(f) > 0 && duplicates == len(f) {
		return fmt.Errorf("append %s: %w", tx.ID, ErrDuplicate)
	}
	return nil
}
