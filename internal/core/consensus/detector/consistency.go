// Package detector analyzes simulation history for safety, liveness and
// consistency problems. Every finding is advisory; nothing here stops a run.
package detector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// Source names where a conflicting commit was found.
const (
	SourceBlocks        = "blocks"
	SourceVotingHistory = "votingHistory"
)

// CommitRef points at one committed occurrence of a hash.
type CommitRef struct {
	Hash        string           `json:"hash"`
	Proposer    consensus.NodeID `json:"proposer,omitempty"`
	Index       int              `json:"index,omitempty"`
	RoundNumber int              `json:"roundNumber,omitempty"`
}

// Violation records more than one distinct hash committed at a height.
type Violation struct {
	Height int         `json:"height"`
	Hashes []string    `json:"hashes"`
	Refs   []CommitRef `json:"refs"`
	Source string      `json:"source"`
}

// String returns a short description of the violation.
func (v Violation) String() string {
	return fmt.Sprintf("height %d has conflicting hashes %s (%s)", v.Height, strings.Join(v.Hashes, ", "), v.Source)
}

func (v Violation) key() string {
	hashes := append([]string(nil), v.Hashes...)
	sort.Strings(hashes)
	return fmt.Sprintf("%d:%s:%s", v.Height, strings.Join(hashes, "|"), v.Source)
}

// ConsistencyReport is the result of a consistency scan.
type ConsistencyReport struct {
	Safe       bool        `json:"safety"`
	Violations []Violation `json:"violations"`
}

// heightIndex groups references by height then hash, remembering first-seen order.
type heightIndex struct {
	heights []int
	hashes  map[int][]string
	refs    map[int]map[string][]CommitRef
}

func newHeightIndex() *heightIndex {
	return &heightIndex{
		hashes: make(map[int][]string),
		refs:   make(map[int]map[string][]CommitRef),
	}
}

func (ix *heightIndex) add(height int, ref CommitRef) {
	byHash, ok := ix.refs[height]
	if !ok {
		byHash = make(map[string][]CommitRef)
		ix.refs[height] = byHash
		ix.heights = append(ix.heights, height)
	}
	if _, seen := byHash[ref.Hash]; !seen {
		ix.hashes[height] = append(ix.hashes[height], ref.Hash)
	}
	byHash[ref.Hash] = append(byHash[ref.Hash], ref)
}

func (ix *heightIndex) violations(source string) []Violation {
	var out []Violation
	for _, h := range ix.heights {
		distinct := ix.hashes[h]
		if len(distinct) < 2 {
			continue
		}
		v := Violation{Height: h, Hashes: append([]string(nil), distinct...), Source: source}
		for _, hash := range distinct {
			v.Refs = append(v.Refs, ix.refs[h][hash]...)
		}
		out = append(out, v)
	}
	return out
}

// ConflictingBlocks scans the committed block list. Blocks without a height
// are ignored; a missing hash is replaced by "<height>-<index>".
func ConflictingBlocks(blocks []consensus.Block) []Violation {
	ix := newHeightIndex()
	for i, b := range blocks {
		if b.Height == 0 {
			continue
		}
		hash := b.Hash
		if hash == "" {
			hash = fmt.Sprintf("%d-%d", b.Height, i)
		}
		ix.add(b.Height, CommitRef{Hash: hash, Proposer: b.Proposer, Index: i})
	}
	return ix.violations(SourceBlocks)
}

// ConflictingHistory scans finalized voting rounds that committed.
func ConflictingHistory(history []*consensus.VotingRound) []Violation {
	ix := newHeightIndex()
	for _, r := range history {
		if r == nil || !r.PrecommitThresholdMet || r.Result != consensus.ResultApproved {
			continue
		}
		height := r.RoundHeight
		if height == 0 {
			height = r.RoundNumber
		}
		if height == 0 || r.BlockHash == "" {
			continue
		}
		ix.add(height, CommitRef{Hash: r.BlockHash, Proposer: r.ProposerID, RoundNumber: r.RoundNumber})
	}
	return ix.violations(SourceVotingHistory)
}

// DetectConsistencyViolations merges the block and history scans, dropping
// duplicates that share height, hash set and source.
func DetectConsistencyViolations(blocks []consensus.Block, history []*consensus.VotingRound) ConsistencyReport {
	seen := make(map[string]bool)
	var merged []Violation
	for _, v := range append(ConflictingBlocks(blocks), ConflictingHistory(history)...) {
		if k := v.key(); !seen[k] {
			seen[k] = true
			merged = append(merged, v)
		}
	}
	return ConsistencyReport{Safe: len(merged) == 0, Violations: merged}
}
