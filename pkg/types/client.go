package types

import "time"

// ClientType is the role a connection plays in the hub.
type ClientType int

const (
	ClientUnknown ClientType = iota
	ClientUser
	ClientRobot
	ClientMonitor
)

func (t ClientType) String() string {
	switch t {
	case ClientUser:
		return "User"
	case ClientRobot:
		return "Robot"
	case ClientMonitor:
		return "Monitor"
	default:
		return "Unknown"
	}
}

// ParseClientType maps the lower-case names used in connection URLs.
func ParseClientType(s string) ClientType {
	switch s {
	case "user", "User":
		return ClientUser
	case "robot", "Robot":
		return ClientRobot
	case "monitor", "Monitor":
		return ClientMonitor
	default:
		return ClientUnknown
	}
}

// ClientStatus is the live availability of a connection, mostly meaningful
// for robots.
type ClientStatus struct {
	IsAvailable       bool      `json:"isAvailable"`
	Message           string    `json:"message"`
	LastAllocatedTime time.Time `json:"lastAllocatedTime"`
}

// RobotStatus tracks what a robot connection was last asked to do.
type RobotStatus struct {
	LastProgramID  int64     `json:"lastProgramId"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	SourceIDs      []string  `json:"sourceIds"`
}

// Clone returns an independent copy.
func (s *RobotStatus) Clone() *RobotStatus {
	if s == nil {
		return nil
	}
	c := *s
	c.SourceIDs = append([]string(nil), s.SourceIDs...)
	return &c
}

// NotificationAlert is an alert raised by a robot and replayed to users on request.
type NotificationAlert struct {
	ID        int       `json:"id"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	WhenAdded time.Time `json:"whenAdded"`
}

// Identity is the authenticated user or robot behind a connection.
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`        // user name or robot machine name
	DisplayName string `json:"displayName"` // robot friendly name, the user name otherwise
	SubType     string `json:"subType"`     // user role or robot type name
}

// IsStudent reports whether the identity is a student user.
func (i *Identity) IsStudent() bool {
	return i != nil && i.SubType == "Student"
}
