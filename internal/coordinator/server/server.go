// Package server implements the coordinator's agent-facing WebSocket
// endpoint: connection upgrade, the auth handshake, and the read loop
// that feeds inbound envelopes to the Node Pool, per spec §6 and §7.
//
// Grounded on ydin/transport.go's per-connection accept loop
// (goroutine-per-connection, single mutex-guarded writer,
// read-until-error) generalized from ydin's length-prefixed binary
// frames to gorilla/websocket text frames carrying JSON envelopes.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/coordinator/pool"
	"github.com/collarhub/collarhub/internal/wire"
)

const authWindow = 5 * time.Second

// Server upgrades incoming HTTP connections to WebSocket links and
// hands authenticated agents off to the Node Pool.
type Server struct {
	log          *zap.Logger
	pool         *pool.Pool
	token        string
	authDisabled bool
	upgrader     websocket.Upgrader
}

// New constructs a Server. authDisabled turns off the shared-secret
// check; the coordinator derives it from config.Coordinator.AuthDisabled
// (token "" or "none"). With authDisabled false, the token must match
// exactly, even when it is "".
func New(p *pool.Pool, token string, authDisabled bool, log *zap.Logger) *Server {
	return &Server{
		log:          log,
		pool:         p,
		token:        token,
		authDisabled: authDisabled,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// ServeHTTP implements http.Handler, one WebSocket endpoint per agent.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	go s.handleConn(conn)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	connID := ulid.Make().String()
	log := s.log.With(zap.String("conn_id", connID))
	link := &wsLink{conn: conn}
	defer conn.Close()

	nodeID, ok := s.authenticate(link, log)
	if !ok {
		return
	}
	log = log.With(zap.String("node_id", nodeID))
	s.pool.AddNode(nodeID, link)
	defer s.pool.RemoveNode(nodeID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("agent connection closed", zap.Error(err))
			return
		}
		env, err := wire.Unmarshal(data)
		if err != nil {
			// malformed message: discard silently, keep the link open.
			continue
		}
		s.pool.HandleMessage(nodeID, env)
	}
}

// authenticate reads the first message within authWindow and expects
// an auth envelope, per spec §7. A missing or wrong token gets one
// auth_result{success:false} before the connection is dropped.
func (s *Server) authenticate(link *wsLink, log *zap.Logger) (string, bool) {
	_ = link.conn.SetReadDeadline(time.Now().Add(authWindow))
	_, data, err := link.conn.ReadMessage()
	if err != nil {
		return "", false
	}
	_ = link.conn.SetReadDeadline(time.Time{})

	env, err := wire.Unmarshal(data)
	if err != nil || env.Type != wire.TypeAuth {
		log.Warn("first message was not a valid auth envelope", zap.Error(err))
		_ = link.Send(wire.NewAuthResult(false))
		return "", false
	}
	if !s.authDisabled && env.Token != s.token {
		log.Warn("auth token mismatch")
		_ = link.Send(wire.NewAuthResult(false))
		return "", false
	}
	nodeID := env.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	if err := link.Send(wire.NewAuthResult(true)); err != nil {
		return "", false
	}
	return nodeID, true
}

// wsLink adapts a gorilla/websocket connection to pool.Link. Writes
// are serialized with a mutex: gorilla/websocket forbids concurrent
// writers on one connection.
type wsLink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *wsLink) Send(e wire.Envelope) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(websocket.TextMessage, b)
}

func (l *wsLink) Close() error {
	return l.conn.Close()
}
