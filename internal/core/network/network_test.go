package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/topology"
	simtesting "github.com/LeJamon/tmsim/internal/testing"
)

func lineNetwork(t *testing.T, n int, loss float64, rng consensus.Random) *Network {
	t.Helper()
	edges, err := topology.Build(topology.Line, n, topology.DefaultOptions(), nil)
	require.NoError(t, err)
	return New(topology.NewGraph(n, edges), 100*time.Millisecond, loss, rng)
}

func TestSendRequiresDirectEdge(t *testing.T) {
	rng := simtesting.Constant(0.5)
	net := lineNetwork(t, 3, 0, rng)

	d := net.Send(1, 3, MsgPrevote, nil, simtesting.Epoch)
	assert.False(t, d.Delivered)
	assert.Equal(t, ReasonNoRoute, d.Reason)
	assert.Equal(t, 0, rng.Draws())

	d = net.Send(2, 1, MsgPrevote, "vote", simtesting.Epoch)
	require.True(t, d.Delivered)
	assert.Equal(t, 100*time.Millisecond, d.Latency)
	assert.Equal(t, consensus.NodeID(2), d.Message.Sender)
	assert.Equal(t, DefaultTTL, d.Message.TTL)
	assert.Equal(t, []consensus.NodeID{2}, d.Message.Path)
	assert.Equal(t, simtesting.Epoch.Add(100*time.Millisecond), d.Message.DeliveryTime())
}

func TestSendPartitioned(t *testing.T) {
	rng := simtesting.Constant(0.5)
	net := lineNetwork(t, 3, 0, rng)
	net.Isolate([]consensus.NodeID{2})

	for _, pair := range [][2]consensus.NodeID{{1, 2}, {2, 1}, {2, 3}} {
		d := net.Send(pair[0], pair[1], MsgPrevote, nil, simtesting.Epoch)
		assert.False(t, d.Delivered, "%d -> %d", pair[0], pair[1])
		assert.Equal(t, ReasonPartitioned, d.Reason, "%d -> %d", pair[0], pair[1])
	}
	assert.Equal(t, 0, rng.Draws())
	assert.True(t, net.Partitioned(2))
	assert.False(t, net.Partitioned(1))

	net.Isolate(nil)
	d := net.Send(1, 2, MsgPrevote, nil, simtesting.Epoch)
	assert.True(t, d.Delivered)
	assert.Equal(t, 1, rng.Draws())
}

func TestSendEdgeOverrides(t *testing.T) {
	latency := 5 * time.Millisecond
	loss := 50.0
	g := topology.NewGraph(2, []topology.Edge{
		{Source: 1, Target: 2, Latency: &latency, PacketLoss: &loss},
	})

	lost := New(g, time.Second, 0, simtesting.Constant(0.4)).Send(1, 2, MsgProposal, nil, simtesting.Epoch)
	assert.False(t, lost.Delivered)
	assert.Equal(t, ReasonPacketLoss, lost.Reason)

	ok := New(g, time.Second, 0, simtesting.Constant(0.6)).Send(1, 2, MsgProposal, nil, simtesting.Epoch)
	require.True(t, ok.Delivered)
	assert.Equal(t, latency, ok.Latency)

	reverse := New(g, time.Second, 0, simtesting.Constant(0.6)).Send(2, 1, MsgProposal, nil, simtesting.Epoch)
	assert.Equal(t, ReasonNoRoute, reverse.Reason)
}

func TestBroadcastToNeighbors(t *testing.T) {
	edges, err := topology.Build(topology.Star, 4, topology.DefaultOptions(), nil)
	require.NoError(t, err)
	g := topology.NewGraph(4, edges)
	net := New(g, 0, 30, simtesting.NewScriptedRandom(0.1, 0.5, 0.9))

	res := net.BroadcastToNeighbors(1, g.Neighbors(1), MsgProposal, nil, simtesting.Epoch)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Lost)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, consensus.NodeID(3), res.Messages[0].Receiver)
}

func TestFlood(t *testing.T) {
	t.Run("reaches every online node on a line", func(t *testing.T) {
		net := lineNetwork(t, 5, 0, simtesting.Constant(0.5))
		res := net.Flood(1, MsgDecision, nil, simtesting.Honest(5), 0, simtesting.Epoch)

		assert.Equal(t, 5, res.TotalDelivered)
		assert.Equal(t, 4, res.TotalSent)
		assert.Equal(t, 4, res.MaxHops)
		assert.Equal(t, 3, res.DeliveryMap[4])
		assert.InDelta(t, 100.0, res.ReachPercentage, 1e-9)
	})

	t.Run("offline node blocks propagation", func(t *testing.T) {
		net := lineNetwork(t, 5, 0, simtesting.Constant(0.5))
		nodes := simtesting.Offline(simtesting.Honest(5), 3)
		res := net.Flood(1, MsgDecision, nil, nodes, 0, simtesting.Epoch)

		assert.Equal(t, []consensus.NodeID{1, 2}, res.ReachedNodes)
		assert.Equal(t, 1, res.TotalFailed)
		assert.InDelta(t, 40.0, res.ReachPercentage, 1e-9)
	})

	t.Run("ttl bounds hops", func(t *testing.T) {
		net := lineNetwork(t, 5, 0, simtesting.Constant(0.5))
		res := net.Flood(1, MsgDecision, nil, simtesting.Honest(5), 2, simtesting.Epoch)

		assert.Len(t, res.ReachedNodes, 3)
		assert.Equal(t, 2, res.MaxHops)
	})
}

func TestReadyAndInbox(t *testing.T) {
	msgs := []Message{
		{Receiver: 1, Type: MsgPrevote, Timestamp: simtesting.Epoch, Latency: time.Second},
		{Receiver: 1, Type: MsgPrecommit, Timestamp: simtesting.Epoch, Latency: 3 * time.Second},
		{Receiver: 2, Type: MsgPrevote, Timestamp: simtesting.Epoch},
	}

	ready := Ready(msgs, simtesting.Epoch.Add(2*time.Second))
	assert.Len(t, ready, 2)

	in := ProcessInbox(1, msgs)
	assert.Len(t, in.Processed, 2)
	assert.Len(t, in.ByType[MsgPrevote], 1)
	assert.Len(t, in.ByType[MsgPrecommit], 1)
	assert.Empty(t, in.ByType[MsgProposal])
}

func TestRoundStats(t *testing.T) {
	s := RoundStats(7, 5).Add(RoundStats(7, 7))
	assert.Equal(t, Stats{Sent: 14, Delivered: 12, Lost: 2}, s)
	assert.InDelta(t, 12.0/14.0*100, s.DeliveryRate(), 1e-9)
	assert.Equal(t, 100.0, Stats{}.DeliveryRate())
}
