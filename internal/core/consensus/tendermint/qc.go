package tendermint

import (
	"fmt"
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// signatureToken is a reproducible stand-in for a validator signature.
func signatureToken(id consensus.NodeID, round int, stage consensus.Stage, hash string) string {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("sig_%d_%d_%s_%s", id, round, stage, hash)
}

// GenerateQC aggregates the yes votes of a stage into a certificate. Signers
// are listed in ascending ID order.
func GenerateQC(vr *consensus.VotingRound, stage consensus.Stage, threshold float64, at time.Time) *consensus.QuorumCertificate {
	votes := vr.Votes(stage)
	qc := &consensus.QuorumCertificate{
		Height:          vr.RoundHeight,
		Round:           vr.RoundNumber,
		Stage:           stage,
		BlockHash:       vr.BlockHash,
		TotalValidators: len(votes),
		ThresholdMet:    true,
		Threshold:       threshold,
		Proposer:        vr.ProposerID,
		CreatedAt:       at,
	}
	for _, id := range vr.Voters() {
		if votes[id] != consensus.VoteYes {
			continue
		}
		qc.Signatures = append(qc.Signatures, consensus.Signature{
			NodeID:    id,
			Vote:      true,
			Signature: signatureToken(id, vr.RoundNumber, stage, vr.BlockHash),
			Timestamp: at,
		})
	}
	qc.SignatureCount = len(qc.Signatures)
	return qc
}
