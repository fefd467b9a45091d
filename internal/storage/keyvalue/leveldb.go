package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB stores keys in a goleveldb directory.
type LevelDB struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// OpenLevelDB opens or creates a goleveldb store at dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Read(ctx context.Context, key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, ErrDBClosed
	}

	val, err := l.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return val, nil
}

func (l *LevelDB) Write(ctx context.Context, key, value []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return ErrDBClosed
	}
	return l.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Delete(ctx context.Context, key []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return ErrDBClosed
	}
	return l.db.Delete(key, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Batch(ctx context.Context, ops []BatchOperation) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return ErrDBClosed
	}

	batch := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Type {
		case BatchPut:
			batch.Put(op.Key, op.Value)
		case BatchDelete:
			batch.Delete(op.Key)
		default:
			return fmt.Errorf("unknown batch operation type: %d", op.Type)
		}
	}
	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: %v", ErrBatchOperationFailed, err)
	}
	return nil
}

type levelIterator struct {
	iter       iterator.Iterator
	key, value []byte
}

func (l *LevelDB) Iterator(ctx context.Context, start, end []byte) (Iterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, ErrDBClosed
	}
	return &levelIterator{
		iter: l.db.NewIterator(&util.Range{Start: start, Limit: end}, nil),
	}, nil
}

func (it *levelIterator) Next() bool {
	if !it.iter.Next() {
		it.key, it.value = nil, nil
		return false
	}
	it.key = copyBytes(it.iter.Key())
	it.value = copyBytes(it.iter.Value())
	return true
}

func (it *levelIterator) Key() []byte   { return it.key }
func (it *levelIterator) Value() []byte { return it.value }
func (it *levelIterator) Error() error  { return it.iter.Error() }

func (it *levelIterator) Close() error {
	it.iter.Release()
	return nil
}

// Close closes the store. Further calls return ErrDBClosed.
func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
