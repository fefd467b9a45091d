package tendermint

import (
	"fmt"
	"sort"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// EvidenceKey identifies one proposal slot.
type EvidenceKey struct {
	Height   int              `json:"height"`
	Round    int              `json:"round"`
	Proposer consensus.NodeID `json:"proposer"`
}

func (k EvidenceKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.Height, k.Round, k.Proposer)
}

// Evidence is the outcome of recording a proposal.
type Evidence struct {
	Key         EvidenceKey `json:"key"`
	Equivocates bool        `json:"equivocates"`
	Hashes      []string    `json:"hashes"`
}

// EvidencePool remembers every hash seen per proposal slot. It is engine
// state: copy it with Clone before recording into a snapshot that others
// may still hold.
type EvidencePool struct {
	entries map[EvidenceKey][]string
}

// NewEvidencePool creates an empty pool.
func NewEvidencePool() *EvidencePool {
	return &EvidencePool{entries: make(map[EvidenceKey][]string)}
}

// Record adds hash under the slot and reports whether the slot has seen
// more than one distinct hash. Hashes keep first-seen order.
func (p *EvidencePool) Record(height, round int, proposer consensus.NodeID, hash string) Evidence {
	key := EvidenceKey{Height: height, Round: round, Proposer: proposer}
	hashes := p.entries[key]
	known := false
	for _, h := range hashes {
		if h == hash {
			known = true
			break
		}
	}
	if !known {
		hashes = append(hashes, hash)
		p.entries[key] = hashes
	}
	return Evidence{
		Key:         key,
		Equivocates: len(hashes) > 1,
		Hashes:      append([]string(nil), hashes...),
	}
}

// RecordBlock records every hash carried by b and returns the final evidence.
func (p *EvidencePool) RecordBlock(b consensus.Block) Evidence {
	var ev Evidence
	for _, h := range b.Hashes() {
		ev = p.Record(b.Height, b.Round, b.Proposer, h)
	}
	return ev
}

// Equivocations returns every slot with conflicting hashes, sorted by key.
func (p *EvidencePool) Equivocations() []Evidence {
	var out []Evidence
	for key, hashes := range p.entries {
		if len(hashes) > 1 {
			out = append(out, Evidence{Key: key, Equivocates: true, Hashes: append([]string(nil), hashes...)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Height != b.Height {
			return a.Height < b.Height
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Proposer < b.Proposer
	})
	return out
}

// Len returns the number of recorded slots.
func (p *EvidencePool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Clone returns an independent copy of the pool.
func (p *EvidencePool) Clone() *EvidencePool {
	out := NewEvidencePool()
	if p == nil {
		return out
	}
	for k, v := range p.entries {
		out.entries[k] = append([]string(nil), v...)
	}
	return out
}
