package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/network"
	"github.com/LeJamon/tmsim/internal/storage/keyvalue"
	simtesting "github.com/LeJamon/tmsim/internal/testing"
)

func committedResult(round int) tendermint.RoundResult {
	at := simtesting.Epoch.Add(time.Duration(round) * time.Second)
	qc := func(stage consensus.Stage) *consensus.QuorumCertificate {
		return &consensus.QuorumCertificate{
			Height:    round,
			Round:     round,
			Stage:     stage,
			BlockHash: "0xabc",
			Signatures: []consensus.Signature{
				{NodeID: 1, Vote: true, Signature: "sig_1_" + stage.String(), Timestamp: at},
				{NodeID: 2, Vote: true, Signature: "sig_2_" + stage.String(), Timestamp: at},
				{NodeID: 3, Vote: true, Signature: "sig_3_" + stage.String(), Timestamp: at},
			},
			TotalValidators: 4,
			SignatureCount:  3,
			ThresholdMet:    true,
			Threshold:       0.67,
			Proposer:        1,
			CreatedAt:       at,
		}
	}
	prevoteQC, precommitQC := qc(consensus.StagePrevote), qc(consensus.StagePrecommit)
	votes := map[consensus.NodeID]consensus.Vote{1: consensus.VoteYes, 2: consensus.VoteYes, 3: consensus.VoteYes, 4: consensus.NoVote}
	block := &consensus.Block{
		Height:    round,
		Round:     round,
		Proposer:  1,
		TxCount:   7,
		Hash:      "0xabc",
		Timestamp: at,
		CommitQC:  precommitQC,
	}
	return tendermint.RoundResult{
		Round:    round,
		Proposer: 1,
		NewBlock: block,
		VotingRound: &consensus.VotingRound{
			RoundNumber:           round,
			RoundHeight:           round,
			ProposerID:            1,
			BlockHash:             "0xabc",
			Prevotes:              votes,
			Precommits:            votes,
			PrevoteCount:          3,
			PrecommitCount:        3,
			PrevoteThresholdMet:   true,
			PrecommitThresholdMet: true,
			PrevoteQC:             prevoteQC,
			PrecommitQC:           precommitQC,
			Result:                consensus.ResultApproved,
			Timestamp:             at,
		},
		NewLiveness: true,
		NewSafety:   true,
		NewProposer: 2,
		Stats:       network.Stats{Sent: 8, Delivered: 6, Lost: 2},
		Duration:    400 * time.Millisecond,
	}
}

func timeoutResult(round int) tendermint.RoundResult {
	return tendermint.RoundResult{
		Round:    round,
		Proposer: 2,
		TimedOut: true,
		Timeout: &consensus.TimeoutEvent{
			Round:           round,
			At:              simtesting.Epoch,
			Duration:        15 * time.Second,
			EscalationLevel: 1,
			Proposer:        2,
		},
		NewSafety:   true,
		NewProposer: 3,
		Duration:    100 * time.Millisecond,
	}
}

func newArchive(t *testing.T, backend string) *Archive {
	t.Helper()
	a, err := Open(backend, t.TempDir(), Options{CacheSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCompressRoundTrip(t *testing.T) {
	small := []byte("tiny")
	large := bytes.Repeat([]byte("prevote precommit "), 50)

	for name, payload := range map[string][]byte{"small": small, "large": large} {
		t.Run(name, func(t *testing.T) {
			packed, err := compress(payload)
			require.NoError(t, err)
			if name == "large" {
				assert.Equal(t, encodingLZ4, packed[0])
				assert.Less(t, len(packed), len(payload))
			} else {
				assert.Equal(t, encodingRaw, packed[0])
			}
			out, err := decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestDecompressCorrupt(t *testing.T) {
	_, err := decompress([]byte{1})
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = decompress([]byte{9, 1, 0})
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = decompress([]byte{encodingRaw, 5, 'a'})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecompressRejectsOversizedLength(t *testing.T) {
	header := func(enc byte, n uint64) []byte {
		buf := make([]byte, 1+binary.MaxVarintLen64)
		buf[0] = enc
		return buf[:1+binary.PutUvarint(buf[1:], n)]
	}

	huge := append(header(encodingLZ4, 1<<40), 0x10, 'a')
	_, err := decompress(huge)
	assert.ErrorIs(t, err, ErrCorrupt)

	// within the record cap but far beyond what two lz4 bytes can expand to
	inflated := append(header(encodingLZ4, 1<<20), 0x10, 'a')
	_, err = decompress(inflated)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = decompress(header(encodingRaw, maxRecordSize+1))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSaveAndLoadRound(t *testing.T) {
	ctx := context.Background()
	for _, backend := range keyvalue.Backends() {
		t.Run(backend, func(t *testing.T) {
			a := newArchive(t, backend)
			r := committedResult(1)
			require.NoError(t, a.SaveRound(ctx, r))

			// Bypass the cache so the decoded form is checked.
			a.cache.Purge()
			rec, err := a.LoadRound(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, OutcomeCommitted, rec.Outcome)
			assert.Equal(t, 1, rec.Height())
			assert.Equal(t, consensus.NodeID(2), rec.NextProposer)
			assert.Equal(t, r.Stats, rec.Stats)
			assert.Equal(t, r.Duration, rec.Duration)
			require.NotNil(t, rec.VotingRound)
			assert.Equal(t, consensus.VoteYes, rec.VotingRound.Prevotes[3])
			assert.Equal(t, consensus.NoVote, rec.VotingRound.Prevotes[4])
			assert.Equal(t, consensus.ResultApproved, rec.VotingRound.Result)
			require.NotNil(t, rec.Block)
			assert.True(t, rec.Block.Timestamp.Equal(r.NewBlock.Timestamp))

			block, err := a.LoadBlock(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "0xabc", block.Hash)
			require.NotNil(t, block.CommitQC)
			assert.Equal(t, []consensus.NodeID{1, 2, 3}, block.CommitQC.Signers())

			qc, err := a.LoadQC(ctx, 1, consensus.StagePrevote)
			require.NoError(t, err)
			assert.Equal(t, consensus.StagePrevote, qc.Stage)
			assert.Equal(t, "sig_2_prevote", qc.Signatures[1].Signature)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, keyvalue.BackendBbolt)

	_, err := a.LoadRound(ctx, 3)
	assert.ErrorIs(t, err, ErrNoHistory)
	_, err = a.LoadBlock(ctx, 3)
	assert.ErrorIs(t, err, ErrNoHistory)
	_, err = a.LoadQC(ctx, 3, consensus.StagePrecommit)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestTimedOutRoundHasNoBlock(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, keyvalue.BackendPebble)
	require.NoError(t, a.SaveRound(ctx, timeoutResult(4)))

	rec, err := a.LoadRound(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, rec.Outcome)
	require.NotNil(t, rec.Timeout)
	assert.Equal(t, 1, rec.Timeout.EscalationLevel)

	heights, err := a.Heights(ctx)
	require.NoError(t, err)
	assert.Empty(t, heights)
}

func TestRoundsRange(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, keyvalue.BackendLevelDB)
	for i := 1; i <= 12; i++ {
		r := committedResult(i)
		if i%4 == 0 {
			r = timeoutResult(i)
		}
		require.NoError(t, a.SaveRound(ctx, r))
	}

	recs, err := a.Rounds(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{OutcomeCommitted, OutcomeTimeout, OutcomeCommitted},
		[]string{recs[0].Outcome, recs[1].Outcome, recs[2].Outcome})

	all, err := a.Rounds(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 12)
	assert.Equal(t, 12, all[11].Round)

	heights, err := a.Heights(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 5, 6, 7, 9, 10, 11}, heights)
}

func TestCacheServesRecentRounds(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, keyvalue.BackendBbolt)
	for i := 1; i <= 6; i++ {
		require.NoError(t, a.SaveRound(ctx, committedResult(i)))
	}

	_, err := a.LoadRound(ctx, 6)
	require.NoError(t, err)
	_, err = a.LoadRound(ctx, 1)
	require.NoError(t, err)
	hits, misses := a.CacheStats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestArchiveAsSimSink(t *testing.T) {
	cfg, err := config.Preset("byzantineTest")
	require.NoError(t, err)
	cfg.Simulation.Seed = 11

	a := newArchive(t, keyvalue.BackendBbolt)
	sim, err := csf.NewSim(cfg, csf.Options{Epoch: simtesting.Epoch, Sinks: []csf.Sink{a}})
	require.NoError(t, err)

	results, err := sim.RunRounds(8)
	require.NoError(t, err)

	recs, err := a.Rounds(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, len(results))
	committed := 0
	for i, r := range results {
		assert.Equal(t, r.Round, recs[i].Round)
		assert.Equal(t, outcomeOf(r), recs[i].Outcome)
		if r.Committed() {
			committed++
		}
	}

	heights, err := a.Heights(context.Background())
	require.NoError(t, err)
	assert.Len(t, heights, committed)
}
