package model

import "time"

type Robot struct {
	ID            string    `json:"id"`
	MachineName   string    `json:"machineName"`
	FriendlyName  string    `json:"friendlyName"`
	Password      Password  `json:"password"`
	RobotTypeID   string    `json:"robotTypeId,omitempty"`
	IsInitialised bool      `json:"isInitialised"`
	Message       string    `json:"message,omitempty"`
	WhenAdded     time.Time `json:"whenAdded"`
}

func (r *Robot) Collection() string      { return "robots" }
func (r *Robot) DocumentID() string      { return r.ID }
func (r *Robot) SetDocumentID(id string) { r.ID = id }

// Toolbox is a named block palette definition for a robot type.
type Toolbox struct {
	Name       string `json:"name"`
	IsDefault  bool   `json:"isDefault"`
	Definition string `json:"definition"`
}

type RobotType struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"isDefault"`
	Toolboxes []Toolbox `json:"toolboxes,omitempty"`
	WhenAdded time.Time `json:"whenAdded"`
}

func (t *RobotType) Collection() string      { return "robotTypes" }
func (t *RobotType) DocumentID() string      { return t.ID }
func (t *RobotType) SetDocumentID(id string) { t.ID = id }
