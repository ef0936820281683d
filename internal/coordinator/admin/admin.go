// Package admin implements the coordinator's local Unix-domain admin
// socket: a JSON request/response control interface distinct from the
// agent-facing WebSocket server, per spec §7.1.
//
// Grounded directly on mil-ad-budsctl/daemon.go's runDaemon/handleConn
// (net.Listen("unix", ...), stale-socket removal, one JSON decode per
// connection, one JSON reply, connection closed) generalized from a
// single "toggle"/"status" pair to the coordinator's status/submit/find
// command set.
package admin

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/coordinator/pool"
	"github.com/collarhub/collarhub/internal/coordinator/routing"
)

// Request is one admin socket command.
type Request struct {
	Command string  `json:"command"`
	Shock   float64 `json:"shock,omitempty"`
	Vibro   float64 `json:"vibro,omitempty"`
	Sound   float64 `json:"sound,omitempty"`
}

// Response is the admin socket's single reply to a Request.
type Response struct {
	Error        string          `json:"error,omitempty"`
	Active       bool            `json:"active,omitempty"`
	Battery      *int            `json:"battery,omitempty"`
	ActiveNodeID string          `json:"activeNodeId,omitempty"`
	Nodes        []pool.Snapshot `json:"nodes,omitempty"`
	Success      bool            `json:"success,omitempty"`
}

// Server accepts local admin connections on a Unix socket.
type Server struct {
	log     *zap.Logger
	pool    *pool.Pool
	router  *routing.Router
	sockPath string
}

// New constructs an admin Server. Call Run to start accepting.
func New(sockPath string, p *pool.Pool, r *routing.Router, log *zap.Logger) *Server {
	return &Server{log: log, pool: p, router: r, sockPath: sockPath}
}

// Run listens on the configured socket path until the listener is
// closed. Removes any stale socket left behind by a prior crash.
func (s *Server) Run() error {
	_ = os.Remove(s.sockPath)
	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.sockPath, err)
	}
	_ = os.Chmod(s.sockPath, 0700)
	defer os.Remove(s.sockPath)
	defer ln.Close()

	s.log.Info("admin socket listening", zap.String("path", s.sockPath))
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(Response{Error: "invalid request: " + err.Error()})
		return
	}
	resp := s.handle(req)
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) handle(req Request) Response {
	switch req.Command {
	case "status":
		snap := s.pool.Snapshot()
		battery, ok := s.router.Battery()
		resp := Response{Active: s.router.Active(), ActiveNodeID: snap.ActiveNodeID, Nodes: snap.Nodes}
		if ok {
			resp.Battery = &battery
		}
		return resp
	case "submit":
		ok := s.router.Submit(req.Shock, req.Vibro, req.Sound)
		return Response{Success: ok}
	case "find":
		ok := s.router.Find()
		return Response{Success: ok}
	default:
		return Response{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}
}
