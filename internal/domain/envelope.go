package domain

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit of record in the event log. Every write to the
// system that other components care about is expressed as one of these
// before being appended; seq is assigned by the log on Append and is the
// total order other components replay against.
type Envelope struct {
	Seq         int64
	ID          string // uuid, unique per envelope
	Type        string // dotted, case-sensitive: "strategy.PlaceRequest", "run.Completed", ...
	Version     int    // schema version of Payload for this Type; 1 if unset
	RunID       string
	CorrID      string // correlation id, shared across a causal chain
	CausationID string // id of the envelope that caused this one, "" for roots
	TraceID     string // optional external tracing id, propagated but never interpreted
	Producer    string // name of the component that appended this envelope
	Headers     map[string]string
	Payload     map[string]any
	CreatedAt   time.Time
}

// Caused derives a new envelope of type t caused by e: it shares e's
// CorrID, sets CausationID to e's ID, and gets a fresh ID and CreatedAt.
// RunID and TraceID carry forward from e; Producer and Payload are the
// caller's responsibility to set afterward.
func (e Envelope) Caused(t string) Envelope {
	corrID := e.CorrID
	if corrID == "" {
		corrID = e.ID
	}
	return Envelope{
		ID:          uuid.NewString(),
		Type:        t,
		Version:     1,
		RunID:       e.RunID,
		CorrID:      corrID,
		CausationID: e.ID,
		TraceID:     e.TraceID,
		CreatedAt:   time.Now().UTC(),
	}
}

// OutboxRecord is the durable, persisted form of an Envelope as stored by
// PostgresLog. It is identical in content to Envelope; the distinct type
// keeps the storage row shape separate from the in-process value callers
// construct before Append.
type OutboxRecord struct {
	Envelope
}
