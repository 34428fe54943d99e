package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAlerts = []byte("alerts")

// BoltSink stores alerts in a BoltDB file. Keys sort by creation time.
type BoltSink struct {
	db   *bolt.DB
	path string
}

// NewBoltSink opens or creates the database at path.
func NewBoltSink(path string) (*BoltSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAlerts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltSink{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltSink) Path() string {
	return s.path
}

// Push stores a.
func (s *BoltSink) Push(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put(alertKey(a), data)
	})
}

// List returns up to limit alerts, newest first. A non-positive limit
// returns all of them.
func (s *BoltSink) List(limit int) ([]Alert, error) {
	alerts := []Alert{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(alerts) >= limit {
				break
			}
			var a Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("failed to unmarshal alert %s: %w", k, err)
			}
			alerts = append(alerts, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return alerts, nil
}

// Close closes the database.
func (s *BoltSink) Close() error {
	return s.db.Close()
}

// alertKey is the fixed-width UTC timestamp followed by the ID.
func alertKey(a Alert) []byte {
	ts := a.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	return []byte(ts + "/" + a.ID)
}
