// Package model holds the persisted entities. Every entity is a store.Document
// kept in its own collection.
package model

import "time"

// UserRole is the permission level of a user or session.
type UserRole string

const (
	RoleUnknown         UserRole = "Unknown"
	RoleStudent         UserRole = "Student"
	RoleTeacher         UserRole = "Teacher"
	RoleAdministrator   UserRole = "Administrator"
	RoleRobot           UserRole = "Robot"
	RoleSynchronization UserRole = "Synchronization"
	RoleUser            UserRole = "User"
)

// ParseUserRole maps a role name to a role, returning RoleUnknown for anything
// it does not recognise.
func ParseUserRole(name string) UserRole {
	switch UserRole(name) {
	case RoleStudent, RoleTeacher, RoleAdministrator, RoleRobot, RoleSynchronization, RoleUser:
		return UserRole(name)
	default:
		return RoleUnknown
	}
}

// Includes reports whether r satisfies required. RoleUser is satisfied by every
// human role; Administrator also satisfies Teacher.
func (r UserRole) Includes(required UserRole) bool {
	switch required {
	case RoleUser:
		return r == RoleUser || r == RoleStudent || r == RoleTeacher || r == RoleAdministrator
	case RoleTeacher:
		return r == RoleTeacher || r == RoleAdministrator
	default:
		return r == required
	}
}

// UserSettings controls robot allocation and the editor defaults for a user.
// AllocationMode 0 means any robot, 1 only RobotID, 2 prefer RobotID.
type UserSettings struct {
	AllocationMode int    `json:"allocationMode"`
	RobotID        string `json:"robotId,omitempty"`
	RobotType      string `json:"robotType,omitempty"`
}

// StudentDetails is kept for students only.
type StudentDetails struct {
	Age    *int   `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

type User struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Role           UserRole        `json:"role"`
	Password       Password        `json:"password"`
	Settings       UserSettings    `json:"settings"`
	StudentDetails *StudentDetails `json:"studentDetails,omitempty"`
	WhenAdded      time.Time       `json:"whenAdded"`
}

func (u *User) Collection() string      { return "users" }
func (u *User) DocumentID() string      { return u.ID }
func (u *User) SetDocumentID(id string) { u.ID = id }
