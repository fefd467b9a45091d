package tendermint

import (
	"fmt"
	"sort"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// PartitionType selects which nodes a partition isolates.
type PartitionType int

const (
	// PartitionSingle isolates the first node.
	PartitionSingle PartitionType = iota

	// PartitionSplit isolates the first half of the nodes.
	PartitionSplit

	// PartitionGradual isolates a random 30% of the nodes.
	PartitionGradual
)

// GradualFraction is the share of nodes a gradual partition isolates.
const GradualFraction = 0.3

// String returns the configuration name of the partition type.
func (t PartitionType) String() string {
	switch t {
	case PartitionSingle:
		return "single"
	case PartitionSplit:
		return "split"
	case PartitionGradual:
		return "gradual"
	default:
		return "unknown"
	}
}

// ParsePartitionType converts a configuration name to a PartitionType.
func ParsePartitionType(s string) (PartitionType, error) {
	switch s {
	case "single":
		return PartitionSingle, nil
	case "split":
		return PartitionSplit, nil
	case "gradual":
		return PartitionGradual, nil
	default:
		return PartitionSingle, fmt.Errorf("unknown partition type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t PartitionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *PartitionType) UnmarshalText(text []byte) error {
	parsed, err := ParsePartitionType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Partition is the set of isolated nodes. An inactive partition isolates nobody.
type Partition struct {
	Active bool               `json:"active"`
	Type   PartitionType      `json:"partitionType"`
	Nodes  []consensus.NodeID `json:"nodes"`
}

// Set returns the isolated nodes as a set; empty when inactive.
func (p Partition) Set() map[consensus.NodeID]bool {
	set := make(map[consensus.NodeID]bool, len(p.Nodes))
	if !p.Active {
		return set
	}
	for _, id := range p.Nodes {
		set[id] = true
	}
	return set
}

// Size returns how many nodes are isolated.
func (p Partition) Size() int {
	if !p.Active {
		return 0
	}
	return len(p.Nodes)
}

// SelectPartition picks the nodes to isolate. Single and split depend only
// on list order; gradual samples without replacement using rng.
func SelectPartition(nodes []consensus.Node, t PartitionType, rng consensus.Random) []consensus.NodeID {
	if len(nodes) == 0 {
		return nil
	}
	ids := consensus.NodeIDs(nodes)
	switch t {
	case PartitionSingle:
		return ids[:1]
	case PartitionSplit:
		return ids[:len(ids)/2]
	case PartitionGradual:
		k := int(float64(len(ids)) * GradualFraction)
		if k < 1 {
			k = 1
		}
		consensus.Shuffle(rng, len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		picked := ids[:k]
		sort.Slice(picked, func(i, j int) bool { return picked[i] < picked[j] })
		return picked
	default:
		return nil
	}
}

// NewPartition builds an active partition of the given type over nodes.
func NewPartition(nodes []consensus.Node, t PartitionType, rng consensus.Random) Partition {
	return Partition{Active: true, Type: t, Nodes: SelectPartition(nodes, t, rng)}
}
