package server

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/coordinator/pool"
	"github.com/collarhub/collarhub/internal/wire"
)

func startTestServer(t *testing.T, token string, authDisabled bool) (*pool.Pool, string) {
	t.Helper()
	p := pool.New(pool.Config{
		PingInterval:   time.Second,
		StaleTimeout:   time.Second,
		HandoffTimeout: time.Second,
		ScanDuration:   time.Second,
	}, zap.NewNop())
	go p.Run()
	t.Cleanup(p.Close)

	s := New(p, token, authDisabled, zap.NewNop())
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return p, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAuth_ValidTokenRegistersNode(t *testing.T) {
	p, url := startTestServer(t, "s3cret", false)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(wire.NewAuth("s3cret", "node-1")))
	var resp wire.Envelope
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, wire.TypeAuthResult, resp.Type)
	require.NotNil(t, resp.Success)
	require.True(t, *resp.Success)

	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		for _, n := range snap.Nodes {
			if n.NodeID == "node-1" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestAuth_WrongTokenRejected(t *testing.T) {
	_, url := startTestServer(t, "s3cret", false)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(wire.NewAuth("wrong", "node-1")))
	var resp wire.Envelope
	require.NoError(t, conn.ReadJSON(&resp))
	require.False(t, *resp.Success)
}

func TestAuth_MissingNodeIDIsAssignedOne(t *testing.T) {
	p, url := startTestServer(t, "", true)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(wire.NewAuth("", "")))
	var resp wire.Envelope
	require.NoError(t, conn.ReadJSON(&resp))
	require.True(t, *resp.Success)

	require.Eventually(t, func() bool {
		return len(p.Snapshot().Nodes) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMalformedMessage_DiscardedWithoutClosingLink(t *testing.T) {
	_, url := startTestServer(t, "", true)
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(wire.NewAuth("", "node-x")))
	var resp wire.Envelope
	require.NoError(t, conn.ReadJSON(&resp))
	// Registering the only node starts a handoff, so a scan request
	// follows auth_result.
	var scan wire.Envelope
	require.NoError(t, conn.ReadJSON(&scan))
	require.Equal(t, wire.TypeScan, scan.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, conn.WriteJSON(wire.NewStatus(true, nil)))

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err) // no reply is expected; the deadline fires, the link wasn't closed by us
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "want a read timeout on an open link, got %v", err)
}
