package recorder

import (
	"context"
	"errors"
	"time"
)

// Access outcomes kept in the audit trail.
const (
	OutcomeIPMatch        = "IP_MATCH"
	OutcomePasswordOK     = "PASSWORD_OK"
	OutcomePasswordDenied = "PASSWORD_DENIED"
	OutcomeLookupFailed   = "LOOKUP_FAILED"
)

// AccessEvent is one gate decision.
type AccessEvent struct {
	At        time.Time
	SessionID string
	IP        string
	Outcome   string
	Detail    string
}

// StoredSnapshot is an archived analytics payload.
type StoredSnapshot struct {
	FetchedAt time.Time
	Raw       []byte
}

var ErrNoSnapshot = errors.New("no snapshot recorded")

// Recorder persists the access audit trail and the analytics archive.
type Recorder interface {
	RecordAccess(ctx context.Context, evt AccessEvent) error
	RecordSnapshot(ctx context.Context, snap StoredSnapshot) error
	LatestSnapshot(ctx context.Context) (StoredSnapshot, error)
	RecentAccess(ctx context.Context, limit int) ([]AccessEvent, error)
	Close() error
}
