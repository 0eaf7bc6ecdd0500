package jobports

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrAmbiguousPrefix is returned when a fingerprint prefix matches more than one record.
	ErrAmbiguousPrefix = errors.New("fingerprint prefix is ambiguous")
	// ErrNoAttribute is returned when a record has no attribute with the requested key.
	ErrNoAttribute = errors.New("no such attribute")
)

// Record is the persisted form of a job, keyed by (collection, fingerprint).
type Record struct {
	Fingerprint fingerprint.Fingerprint
	Collection  string
	Algorithm   string
	Params      Params
	Label       *string
	Mode        StoreMode
	Payload     Payload // nil when nothing is stored
	BlobRef     string  // set when the payload bytes live in a BlobStore
	Attributes  map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Params = r.Params.Clone()
	if r.Label != nil {
		l := *r.Label
		out.Label = &l
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	switch p := r.Payload.(type) {
	case FullResult:
		out.Payload = FullResult{Data: append([]byte(nil), p.Data...)}
	case Prediction:
		out.Payload = Prediction{Values: append([]float64(nil), p.Values...)}
	}
	return &out
}

// RunStatus is the outcome of one training execution.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunEntry logs one training execution. Entries never affect duplicate detection.
type RunEntry struct {
	ID          string
	Collection  string
	Fingerprint fingerprint.Fingerprint
	Algorithm   string
	Mode        StoreMode
	Status      RunStatus
	Error       string
	StartedAt   time.Time
	Duration    time.Duration
}

// ListOptions pages through records, most recently updated first.
type ListOptions struct {
	Limit  int // <= 0 means no limit
	Offset int
}

// Store persists job records of a single collection.
type Store interface {
	// Collection names the namespace this store reads and writes.
	Collection() string
	// Find returns ErrNotFound when no record has fp.
	Find(ctx context.Context, fp fingerprint.Fingerprint) (*Record, error)
	// FindByPrefix resolves a hex fingerprint prefix to exactly one record.
	FindByPrefix(ctx context.Context, prefix string) (*Record, error)
	// UpsertResult writes metadata and payload in one statement, keeping attributes.
	UpsertResult(ctx context.Context, rec *Record) error
	// UpsertAttributes writes metadata and attributes in one statement, keeping the payload.
	UpsertAttributes(ctx context.Context, rec *Record) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	// DeleteAll removes every record and run entry of the collection.
	DeleteAll(ctx context.Context) error
	AppendRun(ctx context.Context, entry RunEntry) error
	Runs(ctx context.Context, fp fingerprint.Fingerprint) ([]RunEntry, error)
	Close() error
}
