package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/yourorg/payment-gateway/internal/model"
)

const bucketName = "transactions"

// BoltStore is a Store backed by a single-file embedded database, for
// deployments where the history must survive restarts without running a
// separate database process.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database file at path and ensures
// the transactions bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Record(_ context.Context, result *model.PaymentResult) (*model.PaymentResult, bool, error) {
	if result.ReferenceID == "" {
		return nil, false, ErrNoReference
	}
	var stored model.PaymentResult
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		k := []byte(key(result.TenantID, result.ReferenceID))
		if existing := b.Get(k); existing != nil {
			return json.Unmarshal(existing, &stored)
		}
		entry := sanitize(result)
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		stored = entry
		created = true
		return b.Put(k, data)
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (s *BoltStore) Find(_ context.Context, tenantID, referenceID string) (*model.PaymentResult, error) {
	var entry model.PaymentResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(key(tenantID, referenceID)))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) List(_ context.Context, tenantID string) ([]model.PaymentResult, error) {
	entries := make([]model.PaymentResult, 0)
	prefix := []byte(tenantID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry model.PaymentResult
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProcessedAt.Before(entries[j].ProcessedAt)
	})
	return entries, nil
}

var _ Store = (*BoltStore)(nil)
