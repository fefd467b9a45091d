package keyvalue

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultBucket holds every key of a bbolt-backed DB.
var DefaultBucket = []byte("tmsim")

// BBoltDB stores keys in a single bucket of a bbolt file.
type BBoltDB struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	bucket []byte
}

// OpenBBolt opens or creates <dir>/<name>.db and its bucket.
func OpenBBolt(dir, name string) (*BBoltDB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bbolt dir: %w", err)
	}
	path := filepath.Join(dir, name+".db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt %s: %w", path, err)
	}
	bucket := append([]byte(nil), DefaultBucket...)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return &BBoltDB{db: db, bucket: bucket}, nil
}

func (b *BBoltDB) Read(ctx context.Context, key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrDBClosed
	}

	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", string(b.bucket))
		}
		v := bucket.Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		// bbolt values are only valid during the transaction
		value = copyBytes(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BBoltDB) Write(ctx context.Context, key []byte, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return ErrDBClosed
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", string(b.bucket))
		}
		return bucket.Put(key, value)
	})
}

func (b *BBoltDB) Delete(ctx context.Context, key []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return ErrDBClosed
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", string(b.bucket))
		}
		return bucket.Delete(key)
	})
}

func (b *BBoltDB) Batch(ctx context.Context, ops []BatchOperation) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return ErrDBClosed
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", string(b.bucket))
		}
		for _, op := range ops {
			var err error
			switch op.Type {
			case BatchPut:
				err = bucket.Put(op.Key, op.Value)
			case BatchDelete:
				err = bucket.Delete(op.Key)
			default:
				return fmt.Errorf("unknown batch operation type: %d", op.Type)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBatchOperationFailed, err)
	}
	return nil
}

type bboltIterator struct {
	tx         *bbolt.Tx
	cursor     *bbolt.Cursor
	started    bool
	key, value []byte
	start, end []byte
}

func (b *BBoltDB) Iterator(ctx context.Context, start, end []byte) (Iterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrDBClosed
	}

	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, err
	}
	bucket := tx.Bucket(b.bucket)
	if bucket == nil {
		tx.Rollback()
		return nil, fmt.Errorf("bucket %s not found", string(b.bucket))
	}
	return &bboltIterator{
		tx:     tx,
		cursor: bucket.Cursor(),
		start:  start,
		end:    end,
	}, nil
}

func (it *bboltIterator) Next() bool {
	var k, v []byte
	if !it.started {
		it.started = true
		if it.start == nil {
			k, v = it.cursor.First()
		} else {
			k, v = it.cursor.Seek(it.start)
		}
	} else {
		k, v = it.cursor.Next()
	}

	if k == nil || (it.end != nil && bytes.Compare(k, it.end) >= 0) {
		it.key, it.value = nil, nil
		return false
	}
	it.key, it.value = k, v
	return true
}

func (it *bboltIterator) Key() []byte   { return it.key }
func (it *bboltIterator) Value() []byte { return it.value }
func (it *bboltIterator) Error() error  { return nil }
func (it *bboltIterator) Close() error  { return it.tx.Rollback() }

// Close releases the file. Further calls return ErrDBClosed.
func (b *BBoltDB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
