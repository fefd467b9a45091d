package tendermint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// DefaultMaliciousProbability is the chance a Byzantine proposer emits invalid content.
const DefaultMaliciousProbability = 0.5

// BlockFactory builds proposals.
type BlockFactory struct {
	BlockSize            int
	MaliciousProbability float64

	// PoolSize caps the transactions an honest block can draw. Zero means
	// no cap.
	PoolSize int
}

// CreateBlock builds the proposal of proposer for the given height and round.
//
// Draws, in order: the transaction count, then for Byzantine proposers that
// are not equivocators the malicious draw. Equivocators instead produce a
// block carrying two hashes and never draw for maliciousness.
func (f BlockFactory) CreateBlock(proposer consensus.Node, height, round int, at time.Time, rng consensus.Random) consensus.Block {
	size := f.BlockSize
	if size < 1 {
		size = 1
	}
	available := size
	if f.PoolSize > 0 && f.PoolSize < available {
		available = f.PoolSize
	}
	b := consensus.Block{
		Height:        height,
		Round:         round,
		Proposer:      proposer.ID,
		TxCount:       1 + rng.Intn(available),
		Timestamp:     at,
		ByzantineType: consensus.ByzantineNone,
	}

	if proposer.IsByzantine {
		b.ByzantineType = proposer.ByzantineType
		if proposer.ByzantineType == consensus.ByzantineEquivocator {
			a := blockHash(b, 'A')
			b.Hash = a
			b.HashPerTarget = &consensus.HashPair{VariantA: a, VariantB: blockHash(b, 'B')}
			return b
		}
		if rng.Float64() < f.MaliciousProbability {
			b.IsMalicious = true
			b.TxCount += size
		}
	}

	b.Hash = blockHash(b, 0)
	return b
}

// blockHash derives a short reproducible identifier from the block header.
// variant distinguishes the two sides of an equivocating proposal.
func blockHash(b consensus.Block, variant byte) string {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Round))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Proposer))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.TxCount))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Timestamp.UnixNano()))
	h.Write(buf[:])

	if b.IsMalicious {
		h.Write([]byte{1})
	}
	if variant != 0 {
		h.Write([]byte{variant})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
