package rowset

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned by GetBounds when a rowset's key range is not fixed yet.
	// Such rowsets are treated as unbounded by the range index.
	ErrNotSupported = errors.New("rowset: bounds not supported")

	// ErrNotFound is returned when a key is not present in a rowset.
	ErrNotFound = errors.New("rowset: key not found")

	// ErrKeyExists is returned when inserting a key that is already present.
	ErrKeyExists = errors.New("rowset: key already exists")

	// ErrFrozen is returned when inserting into a rowset that no longer accepts writes.
	ErrFrozen = errors.New("rowset: frozen")

	// ErrClosed is returned when a rowset is used after its last reference was released.
	ErrClosed = errors.New("rowset: closed")
)

// ID identifies a rowset within a tablet.
type ID uint64

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("rowset_%d", uint64(id))
}

// Row is a single key/value pair.
type Row struct {
	Key   []byte
	Value []byte
}

// Bounded is the minimal contract the range index consumes.
type Bounded interface {
	// GetBounds returns the inclusive minimum and maximum key.
	// An error wrapping ErrNotSupported marks the rowset as unbounded.
	GetBounds() (minKey, maxKey []byte, err error)

	// String returns a diagnostic representation used in error messages.
	String() string
}

// RowSet is a sorted collection of rows covering a contiguous key range.
type RowSet interface {
	Bounded

	ID() ID

	// Get returns the value stored for key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Contains reports whether key is present.
	Contains(ctx context.Context, key []byte) (bool, error)

	// Scan calls fn for every row with lower <= key <= upper in ascending key order.
	// A nil bound is open. Returning an error from fn stops the scan and propagates it.
	Scan(ctx context.Context, lower, upper []byte, fn func(Row) error) error

	// Delete removes key, or returns ErrNotFound.
	Delete(ctx context.Context, key []byte) error

	// Len returns the number of live rows.
	Len() int

	// Size returns the approximate footprint in bytes.
	Size() int64
}
