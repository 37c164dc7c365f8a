package interfaces

import (
	"time"

	"roboclass/pkg/types"
)

// Connection is one live client channel (WebSocket or raw socket).
// ARCHITECTURAL DISCOVERY: Hub, processor and HTTP layer only see this
// abstraction, so both transports share every piece of routing logic.
type Connection interface {
	// ID is the hub-assigned client id, zero until the hub has added it.
	ID() int64
	SetID(id int64)

	Type() types.ClientType
	SetType(t types.ClientType)

	// RemoteAddress is the peer address, used for logging only.
	RemoteAddress() string

	// SendMessage queues msg for delivery and returns immediately.
	// FUNCTIONAL DISCOVERY: Callers are other connections' receive loops;
	// blocking here would let one slow peer stall everyone routing to it.
	SendMessage(msg *types.Message) error

	// PendingMessages returns the messages queued but not yet written.
	PendingMessages() []*types.Message

	// Close is idempotent and fires the closed handlers exactly once.
	Close() error
	IsClosed() bool

	// OnClosed registers fn to run once the connection has closed. When the
	// connection is already closed fn runs immediately.
	OnClosed(fn func(Connection))

	LogMessage(msg *types.Message)
	MessageLog() []*types.Message

	AddListener(listener Connection)
	RemoveListener(listener Connection)
	Listeners() []Connection
	NotifyListeners(msg *types.Message)

	AddNotification(alert types.NotificationAlert)
	Notifications() []types.NotificationAlert

	Status() types.ClientStatus
	SetStatus(status types.ClientStatus)
	// TryAllocate marks an available connection as allocated at now.
	// It returns false when the connection was not available.
	TryAllocate(now time.Time) bool

	RobotDetails() *types.RobotStatus
	SetRobotDetails(details *types.RobotStatus)
	// UpdateRobotDetails mutates the robot details under the connection lock.
	// fn is not called when there are no details.
	UpdateRobotDetails(fn func(details *types.RobotStatus))

	User() *types.Identity
	SetUser(user *types.Identity)
	Robot() *types.Identity
	SetRobot(robot *types.Identity)

	Hub() Hub
	SetHub(hub Hub)
}
