package adapters

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/rs/zerolog"
)

// CachedStore serves Find from a Cache and passes everything else through.
// Writes invalidate the affected entry and DeleteAll purges the cache.
type CachedStore struct {
	ports.Store
	cache      ports.Cache
	serializer ports.Serializer
	ttl        time.Duration
	logger     zerolog.Logger
}

// cachedRecord is the encoded cache entry. Payload bytes are kept raw and
// decoded with the stored mode.
type cachedRecord struct {
	Algorithm  string
	Params     map[string]any
	Label      *string
	Mode       string
	Payload    []byte
	BlobRef    string
	Attributes map[string]any
	CreatedAt  int64
	UpdatedAt  int64
}

// NewCachedStore wraps inner with cache.
func NewCachedStore(inner ports.Store, cache ports.Cache, serializer ports.Serializer, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	return &CachedStore{
		Store:      inner,
		cache:      cache,
		serializer: serializer,
		ttl:        ttl,
		logger:     logger,
	}
}

// Find returns the cached record for fp, loading it from the inner store on a miss.
func (s *CachedStore) Find(ctx context.Context, fp fingerprint.Fingerprint) (*ports.Record, error) {
	key := fp.String()
	if data, ok := s.cache.Get(ctx, key); ok {
		rec, err := s.decode(fp, data)
		if err == nil {
			return rec, nil
		}
		s.logger.Warn().Err(err).Str("fingerprint", fp.Short()).Msg("Dropping undecodable cache entry")
		_ = s.cache.Delete(ctx, key)
	}

	rec, err := s.Store.Find(ctx, fp)
	if err != nil {
		return nil, err
	}

	if data, err := s.encode(rec); err != nil {
		s.logger.Warn().Err(err).Str("fingerprint", fp.Short()).Msg("Could not cache record")
	} else if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("fingerprint", fp.Short()).Msg("Could not cache record")
	}

	return rec, nil
}

// UpsertResult writes through and invalidates the cached entry.
func (s *CachedStore) UpsertResult(ctx context.Context, rec *ports.Record) error {
	defer s.invalidate(ctx, rec.Fingerprint)
	return s.Store.UpsertResult(ctx, rec)
}

// UpsertAttributes writes through and invalidates the cached entry.
func (s *CachedStore) UpsertAttributes(ctx context.Context, rec *ports.Record) error {
	defer s.invalidate(ctx, rec.Fingerprint)
	return s.Store.UpsertAttributes(ctx, rec)
}

// DeleteAll clears the inner store and purges the cache.
func (s *CachedStore) DeleteAll(ctx context.Context) error {
	defer func() {
		if err := s.cache.Purge(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Could not purge record cache")
		}
	}()
	return s.Store.DeleteAll(ctx)
}

// Close logs the cache counters and closes the inner store.
func (s *CachedStore) Close() error {
	if sc, ok := s.cache.(interface{ Stats() CacheStats }); ok {
		st := sc.Stats()
		s.logger.Debug().
			Uint64("hits", st.Hits).
			Uint64("misses", st.Misses).
			Uint64("evictions", st.Evictions).
			Uint64("expirations", st.Expirations).
			Msg("Record cache closed")
	}
	return s.Store.Close()
}

func (s *CachedStore) invalidate(ctx context.Context, fp fingerprint.Fingerprint) {
	if err := s.cache.Delete(ctx, fp.String()); err != nil {
		s.logger.Warn().Err(err).Str("fingerprint", fp.Short()).Msg("Could not invalidate cached record")
	}
}

func (s *CachedStore) encode(rec *ports.Record) ([]byte, error) {
	payload, err := ports.EncodePayload(s.serializer, rec.Payload)
	if err != nil {
		return nil, err
	}
	mode := rec.Mode
	if rec.Payload != nil {
		mode = rec.Payload.Mode()
	}
	return s.serializer.Marshal(cachedRecord{
		Algorithm:  rec.Algorithm,
		Params:     rec.Params,
		Label:      rec.Label,
		Mode:       string(mode),
		Payload:    payload,
		BlobRef:    rec.BlobRef,
		Attributes: rec.Attributes,
		CreatedAt:  rec.CreatedAt.UnixNano(),
		UpdatedAt:  rec.UpdatedAt.UnixNano(),
	})
}

func (s *CachedStore) decode(fp fingerprint.Fingerprint, data []byte) (*ports.Record, error) {
	var c cachedRecord
	if err := s.serializer.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	payload, err := ports.DecodePayload(s.serializer, ports.StoreMode(c.Mode), c.Payload)
	if err != nil {
		return nil, err
	}
	return &ports.Record{
		Fingerprint: fp,
		Collection:  s.Collection(),
		Algorithm:   c.Algorithm,
		Params:      ports.Params(normalizeDecoded(c.Params)),
		Label:       c.Label,
		Mode:        ports.StoreMode(c.Mode),
		Payload:     payload,
		BlobRef:     c.BlobRef,
		Attributes:  normalizeDecoded(c.Attributes),
		CreatedAt:   time.Unix(0, c.CreatedAt),
		UpdatedAt:   time.Unix(0, c.UpdatedAt),
	}, nil
}

// normalizeDecoded maps CBOR's decoded integer kinds onto int64, the form the
// SQL store returns, so cached and uncached reads compare equal.
func normalizeDecoded(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case uint64:
			if n <= 1<<63-1 {
				out[k] = int64(n)
				continue
			}
		case float32:
			out[k] = float64(n)
			continue
		}
		out[k] = v
	}
	return out
}

// Ensure CachedStore implements the Store interface.
var _ ports.Store = (*CachedStore)(nil)
