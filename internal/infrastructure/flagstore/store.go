// Package flagstore persists per-visitor consent and permission flags. It is
// the durable answer to "have we already asked": flows consult it on every
// mount so a visitor who answered once is never re-prompted after a reload.
package flagstore

import (
	"context"
	"strconv"
	"time"
)

// Store is a per-visitor key-value store. Writes are visible to subsequent
// reads from the same process; there is no expiry and no cross-process
// coordination.
type Store interface {
	Get(ctx context.Context, visitorID, key string) (string, bool, error)
	Set(ctx context.Context, visitorID, key, value string) error
	Remove(ctx context.Context, visitorID, key string) error
}

// Flags binds a Store to one visitor so callers stop threading the id
type Flags struct {
	store     Store
	visitorID string
}

// Scope returns a Flags view of the store for one visitor
func Scope(store Store, visitorID string) *Flags {
	return &Flags{store: store, visitorID: visitorID}
}

// VisitorID returns the visitor this view is scoped to
func (f *Flags) VisitorID() string {
	return f.visitorID
}

// Get returns the value for key and whether it was present
func (f *Flags) Get(ctx context.Context, key string) (string, bool, error) {
	return f.store.Get(ctx, f.visitorID, key)
}

// Set writes key to value
func (f *Flags) Set(ctx context.Context, key, value string) error {
	return f.store.Set(ctx, f.visitorID, key, value)
}

// Remove deletes key
func (f *Flags) Remove(ctx context.Context, key string) error {
	return f.store.Remove(ctx, f.visitorID, key)
}

// GetBool reads a boolean flag; absent or unparseable values read as false
func (f *Flags) GetBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := f.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

// SetBool writes a boolean flag
func (f *Flags) SetBool(ctx context.Context, key string, value bool) error {
	return f.Set(ctx, key, strconv.FormatBool(value))
}

// GetTime reads a flag persisted as unix milliseconds
func (f *Flags) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := f.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// SetTime writes a timestamp flag as unix milliseconds
func (f *Flags) SetTime(ctx context.Context, key string, t time.Time) error {
	return f.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}
