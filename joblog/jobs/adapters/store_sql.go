package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ZanzyTHEbar/joblog/joblog/db"
	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/rs/zerolog"
)

const recordColumns = `fingerprint, algorithm, params, label, store_mode, payload, blob_ref, attributes, created_at, updated_at`

// SQLStore implements Store over the job_records and job_runs tables.
// It serves sqlite, libsql and postgres connections.
type SQLStore struct {
	db         *sql.DB
	dialect    db.Dialect
	collection string
	serializer ports.Serializer
	logger     zerolog.Logger
}

// NewSQLStore creates a store scoped to collection. The schema must already be migrated.
func NewSQLStore(sqlDB *sql.DB, dialect db.Dialect, collection string, serializer ports.Serializer, logger zerolog.Logger) *SQLStore {
	return &SQLStore{
		db:         sqlDB,
		dialect:    dialect,
		collection: collection,
		serializer: serializer,
		logger:     logger.With().Str("collection", collection).Logger(),
	}
}

// Collection returns the namespace of this store.
func (s *SQLStore) Collection() string {
	return s.collection
}

// Find loads the record with fingerprint fp.
func (s *SQLStore) Find(ctx context.Context, fp fingerprint.Fingerprint) (*ports.Record, error) {
	query := s.dialect.Rebind(`SELECT ` + recordColumns + ` FROM job_records WHERE collection = ? AND fingerprint = ?`)

	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, s.collection, fp.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record %s: %w", fp.Short(), err)
	}
	return rec, nil
}

// FindByPrefix resolves a lowercase hex prefix to exactly one record.
func (s *SQLStore) FindByPrefix(ctx context.Context, prefix string) (*ports.Record, error) {
	if !fingerprint.IsHexPrefix(prefix) {
		return nil, fmt.Errorf("invalid fingerprint prefix %q", prefix)
	}

	query := s.dialect.Rebind(`
		SELECT ` + recordColumns + ` FROM job_records
		WHERE collection = ? AND fingerprint LIKE ?
		ORDER BY fingerprint
		LIMIT 2
	`)

	rows, err := s.db.QueryContext(ctx, query, s.collection, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var found []*ports.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, ports.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %q", ports.ErrAmbiguousPrefix, prefix)
	}
}

// UpsertResult inserts or updates the record's metadata and payload. Existing
// attributes are kept.
func (s *SQLStore) UpsertResult(ctx context.Context, rec *ports.Record) error {
	params, err := marshalMap(rec.Params)
	if err != nil {
		return err
	}
	payload, err := ports.EncodePayload(s.serializer, rec.Payload)
	if err != nil {
		return err
	}
	mode := rec.Mode
	if rec.Payload != nil {
		mode = rec.Payload.Mode()
	}

	now := time.Now().UnixMilli()
	query := s.dialect.Rebind(`
		INSERT INTO job_records (collection, fingerprint, algorithm, params, label, store_mode, payload, blob_ref, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)
		ON CONFLICT (collection, fingerprint) DO UPDATE SET
			algorithm = excluded.algorithm,
			params = excluded.params,
			label = excluded.label,
			store_mode = excluded.store_mode,
			payload = excluded.payload,
			blob_ref = excluded.blob_ref,
			updated_at = excluded.updated_at
	`)

	_, err = s.db.ExecContext(ctx, query,
		s.collection, rec.Fingerprint.String(), rec.Algorithm, params, nullString(rec.Label),
		string(mode), nullBytes(payload), rec.BlobRef, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert result for %s: %w", rec.Fingerprint.Short(), err)
	}

	s.logger.Debug().
		Str("fingerprint", rec.Fingerprint.Short()).
		Str("mode", string(mode)).
		Int("bytes", len(payload)).
		Msg("Upserted job result")

	return nil
}

// UpsertAttributes inserts or updates the record's metadata and attributes.
// An existing payload is kept.
func (s *SQLStore) UpsertAttributes(ctx context.Context, rec *ports.Record) error {
	params, err := marshalMap(rec.Params)
	if err != nil {
		return err
	}
	attrs, err := marshalMap(rec.Attributes)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	query := s.dialect.Rebind(`
		INSERT INTO job_records (collection, fingerprint, algorithm, params, label, store_mode, payload, blob_ref, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, '', ?, ?, ?)
		ON CONFLICT (collection, fingerprint) DO UPDATE SET
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`)

	_, err = s.db.ExecContext(ctx, query,
		s.collection, rec.Fingerprint.String(), rec.Algorithm, params, nullString(rec.Label),
		string(ports.StoreNone), attrs, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert attributes for %s: %w", rec.Fingerprint.Short(), err)
	}
	return nil
}

// List returns records ordered by most recent update.
func (s *SQLStore) List(ctx context.Context, opts ports.ListOptions) ([]*ports.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	offset := max(opts.Offset, 0)

	query := s.dialect.Rebind(`
		SELECT ` + recordColumns + ` FROM job_records
		WHERE collection = ?
		ORDER BY updated_at DESC, fingerprint
		LIMIT ? OFFSET ?
	`)

	rows, err := s.db.QueryContext(ctx, query, s.collection, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*ports.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// DeleteAll removes every record and run entry of the collection in one transaction.
func (s *SQLStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM job_records WHERE collection = ?`), s.collection)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM job_runs WHERE collection = ?`), s.collection); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	n, _ := res.RowsAffected()
	s.logger.Info().Int64("records", n).Msg("Cleared collection")
	return nil
}

// AppendRun logs one training execution.
func (s *SQLStore) AppendRun(ctx context.Context, entry ports.RunEntry) error {
	query := s.dialect.Rebind(`
		INSERT INTO job_runs (id, collection, fingerprint, algorithm, store_mode, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, s.collection, entry.Fingerprint.String(), entry.Algorithm, string(entry.Mode),
		string(entry.Status), entry.Error, entry.StartedAt.UnixMilli(), entry.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to append run: %w", err)
	}
	return nil
}

// Runs returns the run log of fp, oldest first.
func (s *SQLStore) Runs(ctx context.Context, fp fingerprint.Fingerprint) ([]ports.RunEntry, error) {
	query := s.dialect.Rebind(`
		SELECT id, algorithm, store_mode, status, error, started_at, duration_ms FROM job_runs
		WHERE collection = ? AND fingerprint = ?
		ORDER BY started_at, id
	`)

	rows, err := s.db.QueryContext(ctx, query, s.collection, fp.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []ports.RunEntry
	for rows.Next() {
		var (
			e          ports.RunEntry
			mode       string
			status     string
			startedAt  int64
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &e.Algorithm, &mode, &status, &e.Error, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		e.Collection = s.collection
		e.Fingerprint = fp
		e.Mode = ports.StoreMode(mode)
		e.Status = ports.RunStatus(status)
		e.StartedAt = time.UnixMilli(startedAt)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return entries, nil
}

// Close is a no-op; the connection pool belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanRecord(row rowScanner) (*ports.Record, error) {
	var (
		fp         string
		params     string
		label      sql.NullString
		mode       string
		payload    []byte
		attributes string
		createdAt  int64
		updatedAt  int64
		rec        = &ports.Record{Collection: s.collection}
	)

	if err := row.Scan(&fp, &rec.Algorithm, &params, &label, &mode, &payload, &rec.BlobRef, &attributes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if rec.Fingerprint, err = fingerprint.Parse(fp); err != nil {
		return nil, err
	}
	p, err := unmarshalMap(params)
	if err != nil {
		return nil, err
	}
	rec.Params = ports.Params(p)
	if rec.Attributes, err = unmarshalMap(attributes); err != nil {
		return nil, err
	}
	if label.Valid {
		l := label.String
		rec.Label = &l
	}
	rec.Mode = ports.StoreMode(mode)
	if rec.Payload, err = ports.DecodePayload(s.serializer, rec.Mode, payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", fp, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)

	return rec, nil
}

// nullBytes keeps a missing payload NULL rather than an empty blob.
func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Ensure SQLStore implements the Store interface.
var _ ports.Store = (*SQLStore)(nil)
