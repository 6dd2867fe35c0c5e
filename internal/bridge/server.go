// Package bridge exposes runs to remote consumers (a UI, a CLI client) over
// a websocket JSON-RPC surface: state snapshots and messages stream out,
// run/approve/reject commands come in.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/changeware/flowgate/internal/engine"
	"github.com/changeware/flowgate/internal/protocol"
)

// RunnerFactory builds a runner wired to the given observer. The bridge
// creates one runner per "run" command; starting a new run abandons the old
// run state, matching the engine's single-owner model.
type RunnerFactory func(obs engine.Observer) (*engine.Runner, error)

// Server is the websocket daemon
type Server struct {
	port    int
	factory RunnerFactory

	clientsMu sync.RWMutex
	clients   map[*wsClient]bool

	runMu  sync.Mutex
	runner *engine.Runner
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg protocol.RPCMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[Bridge] Write error: %v", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for local dev
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewServer creates a bridge server
func NewServer(port int, factory RunnerFactory) *Server {
	return &Server{
		port:    port,
		factory: factory,
		clients: make(map[*wsClient]bool),
	}
}

// Start serves websocket connections until the context is canceled
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket(ctx))

	server := &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	log.Printf("[Bridge] Listening on :%d", s.port)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWebSocket(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[Bridge] Upgrade error: %v", err)
			return
		}

		client := &wsClient{conn: conn}
		s.clientsMu.Lock()
		s.clients[client] = true
		total := len(s.clients)
		s.clientsMu.Unlock()
		log.Printf("[Bridge] Client connected. Total: %d", total)

		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			conn.Close()
		}()

		for {
			var msg protocol.RPCMessage
			if err := conn.ReadJSON(&msg); err != nil {
				log.Printf("[Bridge] Client disconnected: %v", err)
				return
			}
			s.handleMessage(ctx, msg, client)
		}
	}
}

// handleMessage dispatches one RPC command
func (s *Server) handleMessage(ctx context.Context, msg protocol.RPCMessage, client *wsClient) {
	switch msg.Type {
	case "run":
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			client.send(protocol.RPCMessage{ID: msg.ID, Error: "invalid payload: " + err.Error()})
			return
		}
		if err := s.startRun(ctx, payload.Message); err != nil {
			client.send(protocol.RPCMessage{ID: msg.ID, Error: err.Error()})
			return
		}
		client.send(protocol.RPCMessage{ID: msg.ID, Type: "run_started"})

	case "approve":
		var payload struct {
			Approver string `json:"approver"`
		}
		_ = json.Unmarshal(msg.Payload, &payload)
		if payload.Approver == "" {
			payload.Approver = "bridge"
		}
		s.decide(ctx, client, msg.ID, func(r *engine.Runner) error {
			return r.Approve(ctx, payload.Approver)
		})

	case "reject":
		var payload struct {
			Approver string `json:"approver"`
			Reason   string `json:"reason"`
		}
		_ = json.Unmarshal(msg.Payload, &payload)
		if payload.Approver == "" {
			payload.Approver = "bridge"
		}
		s.decide(ctx, client, msg.ID, func(r *engine.Runner) error {
			return r.Reject(ctx, payload.Approver, payload.Reason)
		})

	case "get_state":
		s.runMu.Lock()
		runner := s.runner
		s.runMu.Unlock()
		if runner == nil {
			client.send(protocol.RPCMessage{ID: msg.ID, Error: "no active run"})
			return
		}
		client.send(protocol.RPCMessage{
			ID:      msg.ID,
			Type:    "state",
			Payload: protocol.EncodeRPC(runner.State().Snapshot()),
		})

	default:
		client.send(protocol.RPCMessage{ID: msg.ID, Error: "unknown command: " + msg.Type})
	}
}

// startRun creates a fresh runner and drives it in the background. A run
// already suspended on approval is simply abandoned, per the engine's
// cancellation model.
func (s *Server) startRun(ctx context.Context, message string) error {
	runner, err := s.factory(s)
	if err != nil {
		return err
	}

	s.runMu.Lock()
	s.runner = runner
	s.runMu.Unlock()

	go func() {
		if err := runner.Run(ctx, message); err != nil {
			log.Printf("[Bridge] Run failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) decide(_ context.Context, client *wsClient, id interface{}, fn func(*engine.Runner) error) {
	s.runMu.Lock()
	runner := s.runner
	s.runMu.Unlock()
	if runner == nil {
		client.send(protocol.RPCMessage{ID: id, Error: "no active run"})
		return
	}
	// Decisions re-enter the run loop; keep the reader free.
	go func() {
		if err := fn(runner); err != nil {
			log.Printf("[Bridge] Decision failed: %v", err)
		}
	}()
	client.send(protocol.RPCMessage{ID: id, Type: "response"})
}

// Approve resolves the active run's pending approval. Implements the
// approval decider contract for remote surfaces.
func (s *Server) Approve(ctx context.Context, approver string) error {
	s.runMu.Lock()
	runner := s.runner
	s.runMu.Unlock()
	if runner == nil {
		return fmt.Errorf("no active run")
	}
	return runner.Approve(ctx, approver)
}

// Reject resolves the active run's pending approval negatively
func (s *Server) Reject(ctx context.Context, approver, reason string) error {
	s.runMu.Lock()
	runner := s.runner
	s.runMu.Unlock()
	if runner == nil {
		return fmt.Errorf("no active run")
	}
	return runner.Reject(ctx, approver, reason)
}

// OnStateChange implements engine.Observer by broadcasting the snapshot
func (s *Server) OnStateChange(snap protocol.RunSnapshot) {
	s.broadcast(protocol.RPCMessage{Type: "state_change", Payload: protocol.EncodeRPC(snap)})
}

// OnMessage implements engine.Observer by broadcasting the message
func (s *Server) OnMessage(msg protocol.Message) {
	s.broadcast(protocol.RPCMessage{Type: "message", Payload: protocol.EncodeRPC(msg)})
}

// NotifyPending implements approval.Surface
func (s *Server) NotifyPending(req protocol.ApprovalRequest, _ protocol.RunSnapshot) {
	s.broadcast(protocol.RPCMessage{Type: "approval_pending", Payload: protocol.EncodeRPC(req)})
}

// NotifyResolved implements approval.Surface
func (s *Server) NotifyResolved(req protocol.ApprovalRequest) {
	s.broadcast(protocol.RPCMessage{Type: "approval_resolved", Payload: protocol.EncodeRPC(req)})
}

func (s *Server) broadcast(msg protocol.RPCMessage) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		client.send(msg)
	}
}
