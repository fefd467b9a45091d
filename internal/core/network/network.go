package network

import (
	"sync"
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/topology"
)

// Failure reasons reported by Send.
const (
	ReasonNoRoute     = "no-route"
	ReasonPacketLoss  = "packet-loss"
	ReasonPartitioned = "partitioned"
)

// Delivery is the outcome of a direct send.
type Delivery struct {
	Delivered bool
	Reason    string
	Message   Message
	Latency   time.Duration
}

// Network delivers messages over a topology. Edge-specific latency and packet
// loss override the global values.
type Network struct {
	mu         sync.Mutex
	graph      *topology.Graph
	latency    time.Duration
	packetLoss float64
	rng        consensus.Random
	seq        uint64
	isolated   map[consensus.NodeID]bool
}

// New creates a delivery model over graph. packetLoss is a percentage.
func New(graph *topology.Graph, latency time.Duration, packetLoss float64, rng consensus.Random) *Network {
	return &Network{
		graph:      graph,
		latency:    latency,
		packetLoss: packetLoss,
		rng:        rng,
	}
}

// Graph returns the topology messages travel over.
func (n *Network) Graph() *topology.Graph {
	return n.graph
}

// Isolate replaces the set of partitioned nodes. Nil clears it.
func (n *Network) Isolate(ids []consensus.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated = make(map[consensus.NodeID]bool, len(ids))
	for _, id := range ids {
		n.isolated[id] = true
	}
}

// Partitioned reports whether id is cut off from the network.
func (n *Network) Partitioned(id consensus.NodeID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isolated[id]
}

// Send delivers a message across a direct edge. It fails without a draw when
// either end is partitioned or no edge connects sender to receiver.
func (n *Network) Send(sender, receiver consensus.NodeID, t MessageType, content any, at time.Time) Delivery {
	if n.Partitioned(sender) || n.Partitioned(receiver) {
		return Delivery{Reason: ReasonPartitioned}
	}
	edge, ok := n.graph.EdgeBetween(sender, receiver)
	if !ok {
		return Delivery{Reason: ReasonNoRoute}
	}

	latency := n.latency
	if edge.Latency != nil {
		latency = *edge.Latency
	}
	loss := n.packetLoss
	if edge.PacketLoss != nil {
		loss = *edge.PacketLoss
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.rng.Float64()*100 < loss {
		return Delivery{Reason: ReasonPacketLoss}
	}

	n.seq++
	return Delivery{
		Delivered: true,
		Latency:   latency,
		Message: Message{
			ID:        messageID(sender, receiver, t, n.seq),
			Sender:    sender,
			Receiver:  receiver,
			Type:      t,
			Content:   content,
			Timestamp: at,
			Latency:   latency,
			TTL:       DefaultTTL,
			Path:      []consensus.NodeID{sender},
		},
	}
}

// BroadcastResult summarizes a one-hop broadcast.
type BroadcastResult struct {
	Stats
	Messages []Message
}

// BroadcastToNeighbors sends to each listed neighbor.
func (n *Network) BroadcastToNeighbors(sender consensus.NodeID, neighbors []consensus.NodeID, t MessageType, content any, at time.Time) BroadcastResult {
	var res BroadcastResult
	for _, to := range neighbors {
		res.Sent++
		d := n.Send(sender, to, t, content, at)
		if d.Delivered {
			res.Delivered++
			res.Messages = append(res.Messages, d.Message)
		} else {
			res.Lost++
		}
	}
	return res
}

// FloodResult summarizes a multi-hop gossip.
type FloodResult struct {
	TotalSent       int                      `json:"totalSent"`
	TotalDelivered  int                      `json:"totalDelivered"`
	TotalFailed     int                      `json:"totalFailed"`
	MaxHops         int                      `json:"maxHops"`
	DeliveryMap     map[consensus.NodeID]int `json:"deliveryMap"`
	ReachedNodes    []consensus.NodeID       `json:"reachedNodes"`
	ReachPercentage float64                  `json:"reachPercentage"`
}

// Flood gossips a message from origin: every node that receives it relays to
// its neighbors until the hop budget is spent. Offline neighbors count as
// failures without a send. The origin counts as delivered at hop 0.
func (n *Network) Flood(origin consensus.NodeID, t MessageType, content any, nodes []consensus.Node, ttl int, at time.Time) FloodResult {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	byID := make(map[consensus.NodeID]consensus.Node, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}

	res := FloodResult{
		TotalDelivered: 1,
		DeliveryMap:    map[consensus.NodeID]int{origin: 0},
		ReachedNodes:   []consensus.NodeID{origin},
	}

	type hop struct {
		id   consensus.NodeID
		hops int
	}
	pending := []hop{{origin, 0}}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		if _, ok := byID[cur.id]; !ok {
			continue
		}
		if cur.hops > res.MaxHops {
			res.MaxHops = cur.hops
		}
		if cur.hops >= ttl {
			continue
		}

		for _, next := range n.graph.Neighbors(cur.id) {
			if _, done := res.DeliveryMap[next]; done {
				continue
			}
			peer, ok := byID[next]
			if !ok || !peer.IsOnline {
				res.TotalFailed++
				continue
			}

			res.TotalSent++
			if d := n.Send(cur.id, next, t, content, at); d.Delivered {
				res.TotalDelivered++
				res.DeliveryMap[next] = cur.hops + 1
				res.ReachedNodes = append(res.ReachedNodes, next)
				pending = append(pending, hop{next, cur.hops + 1})
			} else {
				res.TotalFailed++
			}
		}
	}

	if len(nodes) > 0 {
		res.ReachPercentage = float64(len(res.ReachedNodes)) / float64(len(nodes)) * 100
	}
	return res
}
