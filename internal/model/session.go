package model

import "time"

// Session is a login record for a user or a robot. UserID holds the robot id
// when IsRobot is set.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Role        UserRole  `json:"role"`
	IsRobot     bool      `json:"isRobot"`
	WhenAdded   time.Time `json:"whenAdded"`
	WhenExpires time.Time `json:"whenExpires"`
}

func (s *Session) Collection() string      { return "sessions" }
func (s *Session) DocumentID() string      { return s.ID }
func (s *Session) SetDocumentID(id string) { s.ID = id }

// IsActive reports whether the session has not expired at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.WhenExpires.After(now)
}

// SessionLifetime is how long a new or renewed session lasts.
const SessionLifetime = 24 * time.Hour
