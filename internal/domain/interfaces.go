package domain

import "context"

// StateStore persists engine snapshots. LoadState returns (nil, nil) when
// no snapshot has been saved yet.
type StateStore interface {
	LoadState(ctx context.Context) (*Snapshot, error)
	SaveState(ctx context.Context, snap *Snapshot) error
}

// NotificationSink receives engine events. Delivery is best-effort and
// must never block engine processing.
type NotificationSink interface {
	Notify(ev Event)
}
