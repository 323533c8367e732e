package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Manifest describes the durable state of a tablet at a specific point in time.
type Manifest struct {
	Version      int
	ID           uint64
	TabletID     uuid.UUID
	CreatedAt    time.Time
	NextRowSetID rowset.ID
	RowSets      []RowSetInfo
}

// New creates a new empty manifest for a fresh tablet.
func New() *Manifest {
	return &Manifest{
		Version:      CurrentVersion,
		TabletID:     uuid.New(),
		CreatedAt:    time.Now(),
		NextRowSetID: 1, // Start rowset IDs at 1
	}
}

// RowSetInfo describes a single disk rowset.
type RowSetInfo struct {
	ID     rowset.ID
	Path   string // Blob name of the data file
	Rows   uint32 // Rows written, deletes included
	Size   int64  // Size in bytes
	MinKey []byte
	MaxKey []byte
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.RowSets = make([]RowSetInfo, len(m.RowSets))
	for i, rs := range m.RowSets {
		rs.MinKey = bytes.Clone(rs.MinKey)
		rs.MaxKey = bytes.Clone(rs.MaxKey)
		c.RowSets[i] = rs
	}
	return &c
}

// AllocateRowSetID reserves the next rowset id.
func (m *Manifest) AllocateRowSetID() rowset.ID {
	id := m.NextRowSetID
	m.NextRowSetID++
	return id
}

// Store manages the manifest files and atomic updates.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

func fileName(versionID uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ManifestFileName, versionID)
}

// Load loads the current manifest. It returns ErrNotFound for a new tablet.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version ID. 0 means latest.
func (s *Store) LoadVersion(ctx context.Context, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fileName(versionID)
	if versionID == 0 {
		content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(content))
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	return ReadBinary(bytes.NewReader(data))
}

// ListVersions returns all readable manifest versions in ascending ID order.
// Corrupted or unreadable manifests are skipped.
func (s *Store) ListVersions(ctx context.Context) ([]*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.store.List(ctx, ManifestFileName+"-")
	if err != nil {
		return nil, err
	}
	var manifests []*Manifest
	for _, f := range files {
		if !strings.HasSuffix(f, ".bin") {
			continue
		}
		data, err := blobstore.ReadAll(ctx, s.store, f)
		if err != nil {
			continue
		}
		m, err := ReadBinary(bytes.NewReader(data))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	slices.SortFunc(manifests, func(a, b *Manifest) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return manifests, nil
}

// Save atomically saves a new manifest version. It increments m.ID and stamps
// CreatedAt before writing.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	filename := fileName(m.ID)

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return err
	}

	// Step 1: the versioned manifest blob.
	if err := s.store.Put(ctx, filename, buf.Bytes()); err != nil {
		return err
	}

	// Step 2: repoint CURRENT. Local stores rename atomically, S3 overwrites are
	// strongly consistent, and the DynamoDB commit store rejects concurrent writers.
	return s.store.Put(ctx, CurrentFileName, []byte(filename))
}

// DeleteVersion deletes the manifest file for the given version.
func (s *Store) DeleteVersion(ctx context.Context, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Delete(ctx, fileName(versionID))
}
