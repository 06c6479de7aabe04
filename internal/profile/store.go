package profile

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

var bucketProfiles = []byte("profiles")

// Store persists mapped profiles to disk so the cache a restart would
// otherwise rebuild from scratch survives across daemon restarts,
// grounded on the pack's bbolt-backed caches (one bucket, json-encoded
// values keyed by the same path[#add_settings] key the in-memory Cache
// uses).
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the bbolt database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProfiles)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing profile store: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored profile for key, or nil if absent or corrupt.
func (s *Store) Get(key string) *model.OptimizationProfile {
	var p model.OptimizationProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketProfiles).Get([]byte(key))
		if v == nil {
			return errNotFound
		}
		return json.Unmarshal(v, &p)
	})
	if err != nil {
		return nil
	}
	return &p
}

// Put persists p under key, overwriting any previous value.
func (s *Store) Put(key string, p *model.OptimizationProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling profile for store: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).Put([]byte(key), data)
	})
}

// Delete removes key from the store, if present.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).Delete([]byte(key))
	})
}

var errNotFound = fmt.Errorf("profile store: key not found")
