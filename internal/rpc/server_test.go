package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
	simtesting "github.com/LeJamon/tmsim/internal/testing"
)

func newTestServer(t *testing.T, preset string, bus *consensus.EventBus) (*Server, *csf.Sim) {
	t.Helper()
	cfg, err := config.Preset(preset)
	require.NoError(t, err)
	cfg.Simulation.Seed = 3
	sim, err := csf.NewSim(cfg, csf.Options{Epoch: simtesting.Epoch, Bus: bus})
	require.NoError(t, err)
	return NewServer(sim, bus, Options{RunID: "run-1", HistoryLimit: 5}), sim
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestGetState(t *testing.T) {
	s, sim := newTestServer(t, "default", nil)
	_, err := sim.RunRounds(8)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var view struct {
		Round         int               `json:"round"`
		Nodes         []json.RawMessage `json:"nodes"`
		VotingHistory []json.RawMessage `json:"votingHistory"`
		Seed          int64             `json:"seed"`
	}
	decodeBody(t, rec, &view)
	assert.Equal(t, 8, view.Round)
	assert.Len(t, view.Nodes, 4)
	assert.Len(t, view.VotingHistory, 5)
	assert.Equal(t, int64(3), view.Seed)

	rec = do(t, s, http.MethodGet, "/api/state?history=2")
	decodeBody(t, rec, &view)
	assert.Len(t, view.VotingHistory, 2)

	rec = do(t, s, http.MethodGet, "/api/state?history=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodChecks(t *testing.T) {
	s, _ := newTestServer(t, "default", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPost, "/api/state").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/start").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodOptions, "/api/start").Code)
}

func TestStartStop(t *testing.T) {
	s, sim := newTestServer(t, "default", nil)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/start").Code)
	assert.True(t, sim.Running())
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/start").Code)

	// Stepping is refused while continuous play runs.
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/step").Code)

	rec := do(t, s, http.MethodPost, "/api/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	decodeBody(t, rec, &resp)
	assert.Equal(t, true, resp["wasRunning"])
	assert.False(t, sim.Running())
}

func TestStepEndpoints(t *testing.T) {
	s, sim := newTestServer(t, "default", nil)

	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/step/back").Code)

	var step struct {
		Step  string `json:"step"`
		Round int    `json:"round"`
	}
	decodeBody(t, do(t, s, http.MethodPost, "/api/step"), &step)
	assert.Equal(t, "ROUND_START", step.Step)
	assert.Equal(t, 1, step.Round)

	decodeBody(t, do(t, s, http.MethodPost, "/api/step"), &step)
	assert.Equal(t, "BLOCK_PROPOSAL", step.Step)
	assert.True(t, sim.Stepping())

	decodeBody(t, do(t, s, http.MethodPost, "/api/step/back"), &step)
	assert.Equal(t, "ROUND_START", step.Step)

	rec := do(t, s, http.MethodPost, "/api/step/restart")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, sim.State().Round)
}

func TestPartitionAndMode(t *testing.T) {
	s, sim := newTestServer(t, "default", nil)

	var p struct {
		Active bool  `json:"active"`
		Nodes  []int `json:"nodes"`
	}
	decodeBody(t, do(t, s, http.MethodPost, "/api/partition"), &p)
	assert.True(t, p.Active)
	assert.NotEmpty(t, p.Nodes)

	decodeBody(t, do(t, s, http.MethodPost, "/api/partition?type=single"), &p)
	assert.True(t, p.Active)
	assert.Len(t, p.Nodes, 1)

	decodeBody(t, do(t, s, http.MethodPost, "/api/partition"), &p)
	assert.False(t, p.Active)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/partition?type=diagonal").Code)

	var mode map[string]bool
	decodeBody(t, do(t, s, http.MethodPost, "/api/mode"), &mode)
	assert.True(t, mode["synchronous"])
	assert.True(t, sim.State().Synchronous)
}

func TestTopologyAndGossip(t *testing.T) {
	s, _ := newTestServer(t, "default", nil)

	var topo struct {
		Type   string            `json:"type"`
		Edges  []json.RawMessage `json:"edges"`
		Gossip *struct {
			Origin int `json:"origin"`
			Result struct {
				ReachPercentage float64 `json:"reachPercentage"`
			} `json:"result"`
		} `json:"gossip"`
	}
	decodeBody(t, do(t, s, http.MethodGet, "/api/topology"), &topo)
	assert.Equal(t, "full-mesh", topo.Type)
	assert.Len(t, topo.Edges, 6)
	assert.Nil(t, topo.Gossip)

	decodeBody(t, do(t, s, http.MethodGet, "/api/topology?origin=2"), &topo)
	require.NotNil(t, topo.Gossip)
	assert.Equal(t, 2, topo.Gossip.Origin)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/topology?origin=9").Code)
}

func TestConfigAndPreset(t *testing.T) {
	s, sim := newTestServer(t, "default", nil)

	var cfg struct {
		Config struct {
			Network struct {
				NodeCount int `json:"node_count"`
			} `json:"network"`
		} `json:"config"`
		Summary config.Summary `json:"summary"`
	}
	decodeBody(t, do(t, s, http.MethodGet, "/api/config"), &cfg)
	assert.Equal(t, 4, cfg.Config.Network.NodeCount)

	rec := do(t, s, http.MethodPost, "/api/preset?name=largeNetwork")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, sim.State().Nodes, 16)
	assert.Equal(t, int64(3), sim.Seed())

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/preset?name=huge").Code)
}

func TestWebsocketStream(t *testing.T) {
	bus := consensus.NewEventBus(256)
	bus.Start()
	defer bus.Stop()

	s, _ := newTestServer(t, "default", bus)
	ts := httptest.NewServer(s)
	defer ts.Close()
	defer s.Hub().Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/reset").Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type  string          `json:"type"`
		RunID string          `json:"runId"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &frame))
	assert.Equal(t, "NetworkReset", frame.Type)
	assert.Equal(t, "run-1", frame.RunID)
	assert.Contains(t, string(frame.Data), `"nodeCount":4`)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub("run", 1, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)

	// Flood faster than a one-frame queue can drain.
	for i := 0; i < 1000 && h.Clients() > 0; i++ {
		h.OnEvent(&consensus.NetworkResetEvent{NodeCount: i})
	}
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
