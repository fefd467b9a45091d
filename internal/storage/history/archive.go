// Package history archives finished rounds, committed blocks and quorum
// certificates in a keyvalue store so that a session can be inspected
// after the process exits.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/storage/keyvalue"
)

const (
	prefixRound = "round/"
	prefixBlock = "block/"
	prefixQC    = "qc/"

	defaultCacheSize = 128
)

func roundKey(round int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixRound, round))
}

func blockKey(height int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixBlock, height))
}

func qcKey(round int, stage consensus.Stage) []byte {
	return []byte(fmt.Sprintf("%s%010d/%s", prefixQC, round, stage))
}

// Options configures an Archive.
type Options struct {
	// CacheSize bounds the number of decoded rounds kept in memory.
	CacheSize int
	Logger    *zap.Logger
}

// Archive stores round records over any keyvalue backend.
type Archive struct {
	db    keyvalue.DB
	cache *lru.Cache[int, Record]
	log   *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New wraps an open database. The archive takes ownership of db.
func New(db keyvalue.DB, opts Options) (*Archive, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cache, err := lru.New[int, Record](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Archive{
		db:    db,
		cache: cache,
		log:   opts.Logger.Named("history"),
	}, nil
}

// Open opens the backend at path and wraps it in an Archive.
func Open(backend, path string, opts Options) (*Archive, error) {
	db, err := keyvalue.Open(backend, path)
	if err != nil {
		return nil, err
	}
	a, err := New(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.log.Info("history archive opened", zap.String("backend", backend), zap.String("path", path))
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	a.cache.Purge()
	return a.db.Close()
}

// SaveRound archives a finished round together with its committed block
// and its certificates in a single batch.
func (a *Archive) SaveRound(ctx context.Context, r tendermint.RoundResult) error {
	rec := NewRecord(r)
	value, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encode round %d: %w", r.Round, err)
	}
	ops := []keyvalue.BatchOperation{keyvalue.Put(roundKey(r.Round), value)}

	if r.NewBlock != nil {
		v, err := encode(r.NewBlock)
		if err != nil {
			return fmt.Errorf("encode block %d: %w", r.NewBlock.Height, err)
		}
		ops = append(ops, keyvalue.Put(blockKey(r.NewBlock.Height), v))
	}
	if vr := r.VotingRound; vr != nil {
		for _, qc := range []*consensus.QuorumCertificate{vr.PrevoteQC, vr.PrecommitQC} {
			if qc == nil {
				continue
			}
			v, err := encode(qc)
			if err != nil {
				return fmt.Errorf("encode %s qc: %w", qc.Stage, err)
			}
			ops = append(ops, keyvalue.Put(qcKey(qc.Round, qc.Stage), v))
		}
	}

	if err := a.db.Batch(ctx, ops); err != nil {
		return fmt.Errorf("archive round %d: %w", r.Round, err)
	}
	a.cache.Add(r.Round, rec)
	a.log.Debug("round archived",
		zap.Int("round", r.Round),
		zap.String("outcome", rec.Outcome),
		zap.Int("records", len(ops)),
	)
	return nil
}

// SaveBlock archives a block under its height.
func (a *Archive) SaveBlock(ctx context.Context, b consensus.Block) error {
	v, err := encode(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Height, err)
	}
	return a.db.Write(ctx, blockKey(b.Height), v)
}

// SaveQC archives a certificate under its round and stage.
func (a *Archive) SaveQC(ctx context.Context, qc *consensus.QuorumCertificate) error {
	if qc == nil {
		return errors.New("history: nil certificate")
	}
	v, err := encode(qc)
	if err != nil {
		return fmt.Errorf("encode %s qc: %w", qc.Stage, err)
	}
	return a.db.Write(ctx, qcKey(qc.Round, qc.Stage), v)
}

// LoadRound returns the archived round, served from cache when possible.
func (a *Archive) LoadRound(ctx context.Context, round int) (Record, error) {
	if rec, ok := a.cache.Get(round); ok {
		a.hits.Add(1)
		return rec, nil
	}
	a.misses.Add(1)

	var rec Record
	if err := a.load(ctx, roundKey(round), &rec); err != nil {
		return Record{}, fmt.Errorf("round %d: %w", round, err)
	}
	a.cache.Add(round, rec)
	return rec, nil
}

// LoadBlock returns the archived block at height.
func (a *Archive) LoadBlock(ctx context.Context, height int) (consensus.Block, error) {
	var b consensus.Block
	if err := a.load(ctx, blockKey(height), &b); err != nil {
		return consensus.Block{}, fmt.Errorf("block %d: %w", height, err)
	}
	return b, nil
}

// LoadQC returns the archived certificate of a voting round and stage.
func (a *Archive) LoadQC(ctx context.Context, round int, stage consensus.Stage) (*consensus.QuorumCertificate, error) {
	var qc consensus.QuorumCertificate
	if err := a.load(ctx, qcKey(round, stage), &qc); err != nil {
		return nil, fmt.Errorf("%s qc %d: %w", stage, round, err)
	}
	return &qc, nil
}

// Rounds returns archived rounds with from <= round <= to in order. A
// non-positive to reads to the end.
func (a *Archive) Rounds(ctx context.Context, from, to int) ([]Record, error) {
	start := roundKey(from)
	end := keyvalue.PrefixEnd([]byte(prefixRound))
	if to > 0 {
		end = roundKey(to + 1)
	}

	it, err := a.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Record
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec Record
		if err := decode(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", it.Key(), err)
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Heights lists the heights of every archived block in order.
func (a *Archive) Heights(ctx context.Context) ([]int, error) {
	prefix := []byte(prefixBlock)
	it, err := a.db.Iterator(ctx, prefix, keyvalue.PrefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var heights []int
	for it.Next() {
		h, err := strconv.Atoi(strings.TrimPrefix(string(it.Key()), prefixBlock))
		if err != nil {
			return nil, fmt.Errorf("%w: key %q", ErrCorrupt, it.Key())
		}
		heights = append(heights, h)
	}
	return heights, it.Error()
}

// CacheStats returns the read cache hit and miss counts.
func (a *Archive) CacheStats() (hits, misses uint64) {
	return a.hits.Load(), a.misses.Load()
}

func (a *Archive) load(ctx context.Context, key []byte, v interface{}) error {
	data, err := a.db.Read(ctx, key)
	if errors.Is(err, keyvalue.ErrKeyNotFound) {
		return ErrNoHistory
	}
	if err != nil {
		return err
	}
	return decode(data, v)
}
