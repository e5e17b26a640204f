package archive

import (
	"context"
	"errors"

	"auction-ledger/internal/models"
)

// Recorder is anything that can archive a settled outcome.
type Recorder interface {
	RecordSettlement(ctx context.Context, o models.Outcome) error
}

// Fanout writes an outcome to every configured recorder, collecting failures
// instead of stopping at the first one.
type Fanout struct {
	recorders []Recorder
}

func NewFanout(recorders ...Recorder) *Fanout {
	kept := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &Fanout{recorders: kept}
}

// Empty reports whether no recorders are configured.
func (f *Fanout) Empty() bool {
	return len(f.recorders) == 0
}

func (f *Fanout) RecordSettlement(ctx context.Context, o models.Outcome) error {
	var failures []error
	for _, r := range f.recorders {
		if err := r.RecordSettlement(ctx, o); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
