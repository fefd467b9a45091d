package detector

import "fmt"

// LivenessStatus grades progress.
type LivenessStatus string

const (
	LivenessMaintained LivenessStatus = "Maintained"
	LivenessDegraded   LivenessStatus = "Degraded"
	LivenessViolated   LivenessStatus = "Violated"
)

// Liveness thresholds.
const (
	HighTimeoutRate        = 40.0
	MaxConsecutiveTimeouts = 3
	SignificantPartition   = 0.3
	MinCommitRate          = 20.0
	ProgressGraceRounds    = 5
)

// LivenessInput is the run-level state the liveness check reads.
type LivenessInput struct {
	// Liveness is the signal from the most recent round.
	Liveness            bool
	Rounds              int
	Timeouts            int
	ConsecutiveTimeouts int
	PartitionActive     bool
	PartitionedNodes    int
	NodeCount           int
	ByzantineCount      int
	CommittedBlocks     int
}

// LivenessReport explains the liveness verdict.
type LivenessReport struct {
	Status          LivenessStatus `json:"status"`
	TimeoutRate     float64        `json:"timeoutRate"`
	CommitRate      float64        `json:"commitRate"`
	PartitionRatio  float64        `json:"partitionRatio"`
	HighTimeoutRate bool           `json:"highTimeoutRate"`
	Consecutive     bool           `json:"consecutiveTimeouts"`
	Partitioned     bool           `json:"significantPartition"`
	NoProgress      bool           `json:"noProgress"`
	ByzantineExceed bool           `json:"byzantineExceeds"`
	Reasons         []string       `json:"reasons,omitempty"`
}

// Liveness grades progress from timeout, partition, commit and Byzantine figures.
func Liveness(in LivenessInput) LivenessReport {
	var r LivenessReport
	if in.Rounds > 0 {
		r.TimeoutRate = float64(in.Timeouts) / float64(in.Rounds) * 100
		r.CommitRate = float64(in.CommittedBlocks) / float64(in.Rounds) * 100
	}
	if in.PartitionActive && in.NodeCount > 0 {
		r.PartitionRatio = float64(in.PartitionedNodes) / float64(in.NodeCount)
	}

	r.HighTimeoutRate = r.TimeoutRate > HighTimeoutRate
	r.Consecutive = in.ConsecutiveTimeouts > MaxConsecutiveTimeouts
	r.Partitioned = r.PartitionRatio > SignificantPartition
	r.NoProgress = in.Rounds > ProgressGraceRounds && r.CommitRate < MinCommitRate
	r.ByzantineExceed = in.ByzantineCount > MaxByzantine(in.NodeCount)

	if r.ByzantineExceed {
		r.Reasons = append(r.Reasons, fmt.Sprintf("byzantine nodes (%d) exceed threshold (%d)", in.ByzantineCount, MaxByzantine(in.NodeCount)))
	}
	if r.HighTimeoutRate {
		r.Reasons = append(r.Reasons, fmt.Sprintf("high timeout rate (%.1f%%)", r.TimeoutRate))
	}
	if r.Consecutive {
		r.Reasons = append(r.Reasons, fmt.Sprintf("%d consecutive timeouts", in.ConsecutiveTimeouts))
	}
	if r.Partitioned {
		r.Reasons = append(r.Reasons, fmt.Sprintf("%d nodes partitioned (%.0f%%)", in.PartitionedNodes, r.PartitionRatio*100))
	}
	if r.NoProgress {
		r.Reasons = append(r.Reasons, fmt.Sprintf("low block commit rate (%.1f%%)", r.CommitRate))
	}

	switch {
	case in.Liveness && !r.HighTimeoutRate && !r.Partitioned && !r.NoProgress && !r.ByzantineExceed:
		r.Status = LivenessMaintained
	case r.HighTimeoutRate || r.Consecutive || r.Partitioned || r.NoProgress || r.ByzantineExceed:
		r.Status = LivenessDegraded
	default:
		r.Status = LivenessViolated
	}
	return r
}
