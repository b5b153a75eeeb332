package recorder

import "context"

// NoopRecorder is used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordAccess(context.Context, AccessEvent) error { return nil }

func (n *NoopRecorder) RecordSnapshot(context.Context, StoredSnapshot) error { return nil }

func (n *NoopRecorder) LatestSnapshot(context.Context) (StoredSnapshot, error) {
	return StoredSnapshot{}, ErrNoSnapshot
}

func (n *NoopRecorder) RecentAccess(context.Context, int) ([]AccessEvent, error) { return nil, nil }

func (n *NoopRecorder) Close() error { return nil }
