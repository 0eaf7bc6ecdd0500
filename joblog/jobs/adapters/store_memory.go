package adapters

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/armon/go-radix"
)

// MemoryStore implements Store in process. Records are indexed by the hex
// fingerprint in a radix tree so prefix lookups walk only matching keys.
type MemoryStore struct {
	mu         sync.Mutex
	collection string
	records    *radix.Tree
	runs       map[fingerprint.Fingerprint][]ports.RunEntry
}

// NewMemoryStore creates an empty store scoped to collection.
func NewMemoryStore(collection string) *MemoryStore {
	return &MemoryStore{
		collection: collection,
		records:    radix.New(),
		runs:       make(map[fingerprint.Fingerprint][]ports.RunEntry),
	}
}

// Collection returns the namespace of this store.
func (s *MemoryStore) Collection() string {
	return s.collection
}

// Find returns a copy of the record with fingerprint fp.
func (s *MemoryStore) Find(ctx context.Context, fp fingerprint.Fingerprint) (*ports.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records.Get(fp.String())
	if !ok {
		return nil, ports.ErrNotFound
	}
	return v.(*ports.Record).Clone(), nil
}

// FindByPrefix resolves a lowercase hex prefix to exactly one record.
func (s *MemoryStore) FindByPrefix(ctx context.Context, prefix string) (*ports.Record, error) {
	if !fingerprint.IsHexPrefix(prefix) {
		return nil, fmt.Errorf("invalid fingerprint prefix %q", prefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*ports.Record
	s.records.WalkPrefix(prefix, func(_ string, v any) bool {
		found = append(found, v.(*ports.Record))
		return len(found) > 1
	})

	switch len(found) {
	case 0:
		return nil, ports.ErrNotFound
	case 1:
		return found[0].Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ports.ErrAmbiguousPrefix, prefix)
	}
}

// UpsertResult inserts or updates metadata and payload, keeping attributes.
func (s *MemoryStore) UpsertResult(ctx context.Context, rec *ports.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	in := rec.Clone()
	if in.Payload != nil {
		in.Mode = in.Payload.Mode()
	}
	if ports.IsEmpty(in.Payload) {
		in.Payload = nil
	}

	next := s.current(in.Fingerprint, now)
	next.Algorithm = in.Algorithm
	next.Params = in.Params
	next.Label = in.Label
	next.Mode = in.Mode
	next.Payload = in.Payload
	next.BlobRef = in.BlobRef
	next.UpdatedAt = now

	s.records.Insert(in.Fingerprint.String(), next)
	return nil
}

// UpsertAttributes inserts or updates attributes, keeping any payload.
func (s *MemoryStore) UpsertAttributes(ctx context.Context, rec *ports.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	in := rec.Clone()

	next, exists := s.lookup(in.Fingerprint)
	if !exists {
		next = &ports.Record{
			Fingerprint: in.Fingerprint,
			Collection:  s.collection,
			Algorithm:   in.Algorithm,
			Params:      in.Params,
			Label:       in.Label,
			Mode:        ports.StoreNone,
			CreatedAt:   now,
		}
	} else {
		next = next.Clone()
	}
	next.Attributes = in.Attributes
	if next.Attributes == nil {
		next.Attributes = map[string]any{}
	}
	next.UpdatedAt = now

	s.records.Insert(in.Fingerprint.String(), next)
	return nil
}

// List returns copies of the records ordered by most recent update.
func (s *MemoryStore) List(ctx context.Context, opts ports.ListOptions) ([]*ports.Record, error) {
	s.mu.Lock()
	all := make([]*ports.Record, 0, s.records.Len())
	s.records.Walk(func(_ string, v any) bool {
		all = append(all, v.(*ports.Record).Clone())
		return false
	})
	s.mu.Unlock()

	slices.SortStableFunc(all, func(a, b *ports.Record) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	offset := min(max(opts.Offset, 0), len(all))
	all = all[offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// DeleteAll removes every record and run entry.
func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = radix.New()
	clear(s.runs)
	return nil
}

// AppendRun logs one training execution.
func (s *MemoryStore) AppendRun(ctx context.Context, entry ports.RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Collection = s.collection
	s.runs[entry.Fingerprint] = append(s.runs[entry.Fingerprint], entry)
	return nil
}

// Runs returns the run log of fp, oldest first.
func (s *MemoryStore) Runs(ctx context.Context, fp fingerprint.Fingerprint) ([]ports.RunEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := slices.Clone(s.runs[fp])
	slices.SortStableFunc(entries, func(a, b ports.RunEntry) int {
		return cmp.Compare(a.StartedAt.UnixNano(), b.StartedAt.UnixNano())
	})
	return entries, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) lookup(fp fingerprint.Fingerprint) (*ports.Record, bool) {
	v, ok := s.records.Get(fp.String())
	if !ok {
		return nil, false
	}
	return v.(*ports.Record), true
}

// current returns a fresh copy of the stored record, or a new one when fp is unknown.
func (s *MemoryStore) current(fp fingerprint.Fingerprint, now time.Time) *ports.Record {
	if rec, ok := s.lookup(fp); ok {
		return rec.Clone()
	}
	return &ports.Record{
		Fingerprint: fp,
		Collection:  s.collection,
		Attributes:  map[string]any{},
		CreatedAt:   now,
	}
}

// Ensure MemoryStore implements the Store interface.
var _ ports.Store = (*MemoryStore)(nil)
