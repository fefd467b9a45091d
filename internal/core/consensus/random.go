package consensus

// Random is the source of every non-deterministic draw made by the simulator:
// downtime, malicious proposals, Byzantine votes, partition sampling, commit
// loss and random topologies. *rand.Rand satisfies it.
type Random interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64

	// Intn returns a value in [0, n). It panics if n <= 0.
	Intn(n int) int
}

// Shuffle permutes n elements in place with the Fisher-Yates algorithm,
// drawing from r from the last index down.
func Shuffle(r Random, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		swap(i, j)
	}
}
