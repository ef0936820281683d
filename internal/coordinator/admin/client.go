package admin

import (
	"encoding/json"
	"fmt"
	"net"
)

// Call dials the admin socket at sockPath, sends req, and decodes the
// single JSON reply. Grounded on mil-ad-budsctl/client.go's ipcCall.
func Call(sockPath string, req Request) (Response, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return Response{}, fmt.Errorf("admin: connect to %s: %w (is collarhubd running?)", sockPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("admin: send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("admin: read response: %w", err)
	}
	return resp, nil
}
