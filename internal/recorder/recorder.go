// Package recorder is the optional audit sink: risk snapshots as they are
// computed and instructions as they are submitted. Everything here is off
// the hot path: a recorder failure degrades the audit trail, never a view.
package recorder

import (
	"context"
	"time"

	"MarginView/internal/risk"
)

// Submission is one instruction handed to the ledger, recorded whether or
// not the ledger accepted it.
type Submission struct {
	Kind      string
	Owner     string
	Signature string
	Outcome   string
	Detail    string
	At        time.Time
}

// Recorder persists audit rows. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordRiskSnapshot(ctx context.Context, owner string, stats risk.Stats, asOf time.Time) error
	RecordSubmission(ctx context.Context, sub Submission) error
	Close() error
}

// Noop discards every record. Used when no database is configured.
type Noop struct{}

func (Noop) RecordRiskSnapshot(context.Context, string, risk.Stats, time.Time) error { return nil }
func (Noop) RecordSubmission(context.Context, Submission) error                      { return nil }
func (Noop) Close() error                                                            { return nil }
