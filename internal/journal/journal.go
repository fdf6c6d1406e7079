// Package journal records which files have already been uploaded so bulk
// seeding can skip unchanged ones.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketUploads = []byte("uploads")

// Journal is a bbolt-backed record of (size, mtime) per uploaded path.
type Journal struct {
	db *bolt.DB
}

type entry struct {
	Size  int64 `json:"size"`
	MTime int64 `json:"mtime"` // unix nanoseconds
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUploads)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores the uploaded state of rel.
func (j *Journal) Record(rel string, size int64, mtime time.Time) error {
	data, err := json.Marshal(entry{Size: size, MTime: mtime.UnixNano()})
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUploads).Put([]byte(rel), data)
	})
}

// Unchanged reports whether rel was recorded with exactly this size and mtime.
func (j *Journal) Unchanged(rel string, size int64, mtime time.Time) bool {
	var unchanged bool
	j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUploads).Get([]byte(rel))
		if data == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil
		}
		unchanged = e.Size == size && e.MTime == mtime.UnixNano()
		return nil
	})
	return unchanged
}

// Forget drops the record for rel.
func (j *Journal) Forget(rel string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUploads).Delete([]byte(rel))
	})
}
