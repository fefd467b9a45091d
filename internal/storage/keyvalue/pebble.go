package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleDB stores keys in a pebble LSM directory.
type PebbleDB struct {
	mu sync.RWMutex
	db *pebble.DB
}

// OpenPebble opens or creates a pebble store at dir.
func OpenPebble(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Read(ctx context.Context, key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrDBClosed
	}

	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return copyBytes(val), nil
}

func (p *PebbleDB) Write(ctx context.Context, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrDBClosed
	}
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(ctx context.Context, key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrDBClosed
	}
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) Batch(ctx context.Context, ops []BatchOperation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrDBClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		switch op.Type {
		case BatchPut:
			if err := batch.Set(op.Key, op.Value, nil); err != nil {
				return fmt.Errorf("%w: %v", ErrBatchOperationFailed, err)
			}
		case BatchDelete:
			if err := batch.Delete(op.Key, nil); err != nil {
				return fmt.Errorf("%w: %v", ErrBatchOperationFailed, err)
			}
		default:
			return fmt.Errorf("unknown batch operation type: %d", op.Type)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrBatchOperationFailed, err)
	}
	return nil
}

type pebbleIterator struct {
	iter       *pebble.Iterator
	started    bool
	key, value []byte
}

func (p *PebbleDB) Iterator(ctx context.Context, start, end []byte) (Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrDBClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{iter: iter}, nil
}

func (it *pebbleIterator) Next() bool {
	var ok bool
	if !it.started {
		it.started = true
		ok = it.iter.First()
	} else {
		ok = it.iter.Next()
	}
	if !ok {
		it.key, it.value = nil, nil
		return false
	}
	it.key = copyBytes(it.iter.Key())
	it.value = copyBytes(it.iter.Value())
	return true
}

func (it *pebbleIterator) Key() []byte   { return it.key }
func (it *pebbleIterator) Value() []byte { return it.value }
func (it *pebbleIterator) Error() error  { return it.iter.Error() }
func (it *pebbleIterator) Close() error  { return it.iter.Close() }

// Close flushes and closes the store. Further calls return ErrDBClosed.
func (p *PebbleDB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
