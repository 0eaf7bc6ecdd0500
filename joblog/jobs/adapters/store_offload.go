package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OffloadStore moves full-result payloads larger than a threshold into a
// BlobStore and keeps only a reference in the record.
type OffloadStore struct {
	ports.Store
	blobs     ports.BlobStore
	threshold int
	prefix    string
	logger    zerolog.Logger
}

// NewOffloadStore wraps inner. Blob keys are prefix/collection/fingerprint/id,
// with the collection escaped into a single path segment. Every write uses a
// new id, so a blob is never overwritten while a record still points at it.
func NewOffloadStore(inner ports.Store, blobs ports.BlobStore, threshold int, prefix string, logger zerolog.Logger) *OffloadStore {
	return &OffloadStore{
		Store:     inner,
		blobs:     blobs,
		threshold: threshold,
		prefix:    prefix,
		logger:    logger,
	}
}

func (s *OffloadStore) blobKey(fp fingerprint.Fingerprint) string {
	return s.collectionPrefix() + fp.String() + "/" + uuid.NewString()
}

// collectionPrefix ends in "/", so one collection's prefix never covers another's.
func (s *OffloadStore) collectionPrefix() string {
	seg := collectionSegment(s.Collection()) + "/"
	if p := strings.Trim(s.prefix, "/"); p != "" {
		return p + "/" + seg
	}
	return seg
}

// collectionSegment escapes "/" and keeps "." and ".." from reading as
// relative path elements.
func collectionSegment(collection string) string {
	seg := url.PathEscape(collection)
	if seg == "" || strings.Trim(seg, ".") == "" {
		seg = strings.ReplaceAll(seg, ".", "%2E")
	}
	return seg
}

// Find loads the record and fetches an offloaded payload.
func (s *OffloadStore) Find(ctx context.Context, fp fingerprint.Fingerprint) (*ports.Record, error) {
	rec, err := s.Store.Find(ctx, fp)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByPrefix loads the record and fetches an offloaded payload.
func (s *OffloadStore) FindByPrefix(ctx context.Context, prefix string) (*ports.Record, error) {
	rec, err := s.Store.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpsertResult writes large payloads to a fresh blob before the record. Once
// the record is written the blob it replaced is removed; if the record write
// fails the fresh blob is removed instead and the stored result is unchanged.
func (s *OffloadStore) UpsertResult(ctx context.Context, rec *ports.Record) error {
	var previous string
	if old, err := s.Store.Find(ctx, rec.Fingerprint); err == nil {
		previous = old.BlobRef
	} else if !errors.Is(err, ports.ErrNotFound) {
		return err
	}

	out := rec
	if full, ok := rec.Payload.(ports.FullResult); ok && len(full.Data) > s.threshold {
		key := s.blobKey(rec.Fingerprint)
		if err := s.blobs.Put(ctx, key, full.Data); err != nil {
			return fmt.Errorf("failed to offload payload of %s: %w", rec.Fingerprint.Short(), err)
		}

		out = rec.Clone()
		out.Payload = nil
		out.Mode = ports.StoreFullResult
		out.BlobRef = key

		s.logger.Debug().
			Str("fingerprint", rec.Fingerprint.Short()).
			Str("blob", key).
			Int("bytes", len(full.Data)).
			Msg("Offloaded payload")
	} else if rec.BlobRef != "" {
		out = rec.Clone()
		out.BlobRef = ""
	}

	if err := s.Store.UpsertResult(ctx, out); err != nil {
		if out.BlobRef != "" && out.BlobRef != previous {
			if derr := s.blobs.Delete(ctx, out.BlobRef); derr != nil {
				s.logger.Warn().Err(derr).Str("blob", out.BlobRef).Msg("Could not delete orphaned blob")
			}
		}
		return err
	}

	if previous != "" && previous != out.BlobRef {
		if err := s.blobs.Delete(ctx, previous); err != nil {
			s.logger.Warn().Err(err).Str("blob", previous).Msg("Could not delete stale blob")
		}
	}
	return nil
}

// DeleteAll clears the inner store, then every blob of the collection.
func (s *OffloadStore) DeleteAll(ctx context.Context) error {
	if err := s.Store.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.blobs.DeletePrefix(ctx, s.collectionPrefix()); err != nil {
		return fmt.Errorf("failed to delete blobs of collection %q: %w", s.Collection(), err)
	}
	return nil
}

func (s *OffloadStore) hydrate(ctx context.Context, rec *ports.Record) error {
	if rec.BlobRef == "" || rec.Payload != nil {
		return nil
	}
	data, err := s.blobs.Get(ctx, rec.BlobRef)
	if err != nil {
		return fmt.Errorf("failed to load offloaded payload of %s: %w", rec.Fingerprint.Short(), err)
	}
	rec.Payload = ports.FullResult{Data: data}
	return nil
}

// Ensure OffloadStore implements the Store interface.
var _ ports.Store = (*OffloadStore)(nil)
