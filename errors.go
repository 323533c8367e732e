package tabletdb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/manifest"
	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/hupe1980/tabletdb/internal/rowsettree"
	"github.com/hupe1980/tabletdb/internal/tablet"
)

var (
	// ErrNotFound is returned when a key is not present.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when the database is used after Close.
	ErrClosed = errors.New("database closed")

	// ErrInvalidArgument is returned for empty keys and empty compaction inputs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRowSetNotFound is returned by Compact for an unknown rowset ID.
	ErrRowSetNotFound = errors.New("rowset not found")

	// ErrCorrupt is returned when a persisted rowset or manifest fails validation.
	ErrCorrupt = errors.New("corrupt data")

	// ErrInvalidBounds is returned when a rowset reports a minimum key greater
	// than its maximum key. The range index is left unchanged.
	ErrInvalidBounds = errors.New("invalid rowset bounds")
)

// ErrKeyExists indicates an insert of a key that is already present.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrKeyExists struct {
	Key   []byte
	cause error
}

func (e *ErrKeyExists) Error() string {
	return fmt.Sprintf("key already exists: %q", e.Key)
}

func (e *ErrKeyExists) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, rowset.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, tablet.ErrClosed), errors.Is(err, rowset.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, tablet.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, tablet.ErrRowSetNotFound):
		return fmt.Errorf("%w: %w", ErrRowSetNotFound, err)
	case errors.Is(err, rowsettree.ErrInvertedBounds):
		return fmt.Errorf("%w: %w", ErrInvalidBounds, err)
	case errors.Is(err, diskrowset.ErrCorrupt),
		errors.Is(err, diskrowset.ErrChecksum),
		errors.Is(err, diskrowset.ErrInvalidMagic),
		errors.Is(err, diskrowset.ErrInvalidVersion),
		errors.Is(err, manifest.ErrCorrupt),
		errors.Is(err, manifest.ErrIncompatibleVersion):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}

func translateInsertError(key []byte, err error) error {
	if errors.Is(err, rowset.ErrKeyExists) {
		return &ErrKeyExists{Key: key, cause: err}
	}
	return translateError(err)
}
