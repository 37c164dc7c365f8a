package interfaces

import (
	"context"

	"roboclass/pkg/types"
)

// Hub is the directory of live connections.
// ARCHITECTURAL DISCOVERY: The hub is the most contended structure in the
// server, every method must be safe to call from any receive loop.
type Hub interface {
	// AddClient assigns the next client id and announces the client to monitors.
	AddClient(conn Connection) int64
	RemoveClient(conn Connection)

	// GetClient returns nil for unknown ids.
	GetClient(id int64) Connection
	GetClients(t types.ClientType) []Connection
	GetAllClients() []Connection

	AddMonitor(conn Connection)
	RemoveMonitor(conn Connection)
	GetMonitors() []Connection

	// SendToAll delivers msg to every client of type t, or to every client
	// when t is ClientUnknown.
	SendToAll(msg *types.Message, t types.ClientType)
	SendToMonitors(msg *types.Message)
}

// MessageProcessor handles every inbound message for every connection.
type MessageProcessor interface {
	// Process never returns an error: failures are reported to conn as
	// Error messages.
	Process(ctx context.Context, conn Connection, msg *types.Message)
}
