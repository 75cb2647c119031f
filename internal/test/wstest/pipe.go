// Package wstest contains helpers for testing WebSocket connections.
package wstest

import (
	"net"

	"subway.dev/websocket"
)

// Pipe creates an in memory connection between a client and a server
// websocket, analogous to net.Pipe. The underlying transport is
// synchronous so reads and writes must be paired across goroutines.
func Pipe() (client, server *websocket.Conn) {
	cc, sc := net.Pipe()
	return websocket.NewConn(cc, websocket.RoleClient), websocket.NewConn(sc, websocket.RoleServer)
}
