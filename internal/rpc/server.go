// Package rpc exposes a running simulation over HTTP: a small JSON
// control API and a websocket stream of simulation events.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/network"
	"github.com/LeJamon/tmsim/internal/core/topology"
)

// Options configures a Server.
type Options struct {
	Logger *zap.Logger

	// RunID stamps websocket frames.
	RunID string

	// SendQueueLimit bounds the frames queued per websocket client.
	SendQueueLimit int

	// HistoryLimit bounds the voting rounds returned by /api/state.
	HistoryLimit int
}

// Server serves the control API for one simulation.
type Server struct {
	sim  *csf.Sim
	hub  *Hub
	mux  *http.ServeMux
	log  *zap.Logger
	opts Options
}

// NewServer creates a server for sim. When bus is not nil the websocket
// hub subscribes to it.
func NewServer(sim *csf.Sim, bus *consensus.EventBus, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	s := &Server{
		sim:  sim,
		hub:  NewHub(opts.RunID, opts.SendQueueLimit, opts.Logger),
		mux:  http.NewServeMux(),
		log:  opts.Logger.Named("rpc"),
		opts: opts,
	}
	if bus != nil {
		bus.Subscribe(s.hub)
	}
	s.registerRoutes()
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/state", s.get(s.handleGetState))
	s.mux.HandleFunc("/api/topology", s.get(s.handleTopology))
	s.mux.HandleFunc("/api/config", s.get(s.handleConfig))
	s.mux.HandleFunc("/api/start", s.post(s.handleStart))
	s.mux.HandleFunc("/api/stop", s.post(s.handleStop))
	s.mux.HandleFunc("/api/reset", s.post(s.handleReset))
	s.mux.HandleFunc("/api/step", s.post(s.handleStep))
	s.mux.HandleFunc("/api/step/back", s.post(s.handleStepBack))
	s.mux.HandleFunc("/api/step/restart", s.post(s.handleStepRestart))
	s.mux.HandleFunc("/api/partition", s.post(s.handlePartition))
	s.mux.HandleFunc("/api/mode", s.post(s.handleMode))
	s.mux.HandleFunc("/api/preset", s.post(s.handlePreset))
	s.mux.Handle("/ws", s.hub)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return s.only(http.MethodGet, h)
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return s.only(http.MethodPost, h)
}

func (s *Server) only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// handleGetState returns the current simulation view. ?history=N
// overrides the number of voting rounds included.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	history := s.opts.HistoryLimit
	if v := r.URL.Query().Get("history"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid history %q", v))
			return
		}
		history = n
	}
	s.writeJSON(w, s.sim.View(history))
}

// TopologyResponse describes the network graph.
type TopologyResponse struct {
	Type   string           `json:"type"`
	Nodes  []consensus.Node `json:"nodes"`
	Edges  []topology.Edge  `json:"edges"`
	Stats  topology.Stats   `json:"stats"`
	Gossip *GossipResponse  `json:"gossip,omitempty"`
}

// GossipResponse is a flood simulated from one origin.
type GossipResponse struct {
	Origin consensus.NodeID    `json:"origin"`
	Result network.FloodResult `json:"result"`
}

// handleTopology returns the graph. ?origin=N also floods a message from N.
func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	g := s.sim.Graph()
	resp := TopologyResponse{
		Type:  s.sim.Config().Topology.Type,
		Nodes: s.sim.State().Nodes,
		Edges: g.Edges(),
		Stats: g.Stats(),
	}
	if v := r.URL.Query().Get("origin"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 1 || id > g.NodeCount() {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid origin %q", v))
			return
		}
		origin := consensus.NodeID(id)
		resp.Gossip = &GossipResponse{Origin: origin, Result: s.sim.Gossip(origin)}
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.sim.Config()
	s.writeJSON(w, map[string]interface{}{
		"config":   cfg,
		"summary":  config.Summarize(cfg),
		"warnings": config.Warnings(cfg),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.Start(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.sim.Stop()
	s.writeJSON(w, map[string]interface{}{"status": "stopped", "wasRunning": stopped})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.Reset(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "reset"})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	rs, err := s.sim.Step()
	if err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, rs)
}

func (s *Server) handleStepBack(w http.ResponseWriter, r *http.Request) {
	rs, err := s.sim.StepBack()
	if err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, rs)
}

func (s *Server) handleStepRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.GoToRoundStart(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	rs, _ := s.sim.CurrentStep()
	s.writeJSON(w, rs)
}

// handlePartition toggles the partition. ?type= selects the partition
// type instead of toggling.
func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("type"); v != "" {
		t, err := tendermint.ParsePartitionType(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.sim.SetPartitionType(t)
		s.writeJSON(w, s.sim.State().Partition)
		return
	}
	s.writeJSON(w, s.sim.TogglePartition())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	sync := s.sim.ToggleSynchronous()
	s.writeJSON(w, map[string]bool{"synchronous": sync})
}

// handlePreset applies a named preset, keeping the current seed.
func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	cfg, err := config.Preset(name)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.ApplyConfig(cfg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err)
		return
	}
	s.log.Info("preset applied", zap.String("preset", name))
	s.writeJSON(w, config.Summarize(s.sim.Config()))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
