package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/stockline/api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithTxOptions configures the transactions used by Reserve and SaveResponse.
func WithTxOptions(opts ...pfirestore.TxOption) FirestoreOption {
	return func(store *FirestoreStore) {
		store.txOpts = append(store.txOpts, opts...)
	}
}

// FirestoreStore implements Store on the shared Firestore provider.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	txOpts     []pfirestore.TxOption
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{
		provider:   provider,
		collection: defaultCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *FirestoreStore) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection), nil
}

// Reserve claims the key for the fingerprint or reports the stored outcome.
func (s *FirestoreStore) Reserve(ctx context.Context, scope, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	coll, err := s.collectionRef(ctx)
	if err != nil {
		return Reservation{}, err
	}
	ref := coll.Doc(recordID(scope, key))

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := loadRecord(tx, ref)
		if err != nil {
			return err
		}
		res, write, err := reserve(existing, scope, key, fingerprint, now, effectiveTTL(ttl))
		if err != nil {
			return err
		}
		if write {
			if err := tx.Set(ref, encodeRecord(res.Record)); err != nil {
				return err
			}
		}
		result = res
		return nil
	}, s.txOpts...)
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Reservation{}, ErrFingerprintMismatch
		}
		return Reservation{}, pfirestore.WrapError("idempotency.reserve", err)
	}
	return result, nil
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *FirestoreStore) SaveResponse(ctx context.Context, scope, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	coll, err := s.collectionRef(ctx)
	if err != nil {
		return err
	}
	ref := coll.Doc(recordID(scope, key))

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := loadRecord(tx, ref)
		if err != nil {
			return err
		}
		record, err := complete(existing, scope, key, fingerprint, resp, now, effectiveTTL(ttl))
		if err != nil {
			return err
		}
		return tx.Set(ref, encodeRecord(record))
	}, s.txOpts...)
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return ErrFingerprintMismatch
		}
		return pfirestore.WrapError("idempotency.save", err)
	}
	return nil
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	coll, err := s.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := coll.Where("expiresAt", "<=", now.UTC()).OrderBy("expiresAt", firestore.Asc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return removed, pfirestore.WrapError("idempotency.cleanup", err)
		}
		removed++
	}
	return removed, nil
}

// Release removes the reservation to allow callers to retry.
func (s *FirestoreStore) Release(ctx context.Context, scope, key string) error {
	coll, err := s.collectionRef(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(recordID(scope, key)).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

type firestoreRecord struct {
	Scope           string              `firestore:"scope"`
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func loadRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Record, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	record := Record{
		Scope:           doc.Scope,
		Key:             doc.Key,
		Fingerprint:     doc.Fingerprint,
		Status:          Status(doc.Status),
		ResponseStatus:  doc.ResponseStatus,
		ResponseHeaders: doc.ResponseHeaders,
		ResponseBody:    doc.ResponseBody,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
		ExpiresAt:       doc.ExpiresAt.UTC(),
	}
	return &record, nil
}

func encodeRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Scope:           r.Scope,
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
