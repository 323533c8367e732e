package tablet

import (
	"errors"

	"github.com/hupe1980/tabletdb/internal/rowset"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed tablet.
	ErrClosed = errors.New("tablet closed")

	// ErrInvalidArgument is returned when an argument is invalid (e.g. empty key).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRowSetNotFound is returned by Compact for an id that is not a disk rowset of the tablet.
	ErrRowSetNotFound = errors.New("rowset not found")

	// ErrKeyExists is returned by Insert when the key is already present.
	ErrKeyExists = rowset.ErrKeyExists

	// ErrNotFound is returned when a key is not present.
	ErrNotFound = rowset.ErrNotFound
)
