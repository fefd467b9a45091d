package topology

import "errors"

var (
	// ErrUnknownTopology is returned for an unsupported topology type.
	ErrUnknownTopology = errors.New("unknown topology type")

	// ErrEdgeExists is returned when adding an edge that already connects the pair.
	ErrEdgeExists = errors.New("edge already exists")

	// ErrSelfLoop is returned when an edge would connect a node to itself.
	ErrSelfLoop = errors.New("edge endpoints must differ")
)
