package detector

import "fmt"

// MaxByzantine returns the largest Byzantine count a network of n tolerates.
func MaxByzantine(n int) int {
	return n / 3
}

// SafetyReport explains the safety verdict.
type SafetyReport struct {
	Safe              bool     `json:"safe"`
	ByzantineExceeds  bool     `json:"byzantineExceeds"`
	ConflictingCommit bool     `json:"conflictingCommit"`
	Reasons           []string `json:"reasons,omitempty"`
}

// Safety is violated when the Byzantine count breaks the n/3 assumption,
// whether or not a fork was observed, or when a conflicting commit exists.
func Safety(nodeCount, byzantineCount int, consistency ConsistencyReport) SafetyReport {
	r := SafetyReport{
		ByzantineExceeds:  byzantineCount > MaxByzantine(nodeCount),
		ConflictingCommit: len(consistency.Violations) > 0,
	}
	if r.ByzantineExceeds {
		r.Reasons = append(r.Reasons, fmt.Sprintf("byzantine nodes (%d) exceed threshold (%d)", byzantineCount, MaxByzantine(nodeCount)))
	}
	for _, v := range consistency.Violations {
		r.Reasons = append(r.Reasons, v.String())
	}
	r.Safe = !r.ByzantineExceeds && !r.ConflictingCommit
	return r
}
