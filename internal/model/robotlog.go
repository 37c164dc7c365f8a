package model

import (
	"time"

	"roboclass/pkg/types"
)

// RobotLogLine is one entry in a robot log. Lines have no lifecycle of their own.
type RobotLogLine struct {
	Description       string            `json:"description"`
	SourceMessageType types.MessageType `json:"sourceMessageType"`
	Values            []NamedValue      `json:"values,omitempty"`
	WhenAdded         time.Time         `json:"whenAdded"`
}

// RobotLog collects the lines a robot produced during one conversation.
type RobotLog struct {
	ID              string         `json:"id"`
	RobotID         string         `json:"robotId"`
	Conversation    Conversation   `json:"conversation"`
	Lines           []RobotLogLine `json:"lines"`
	WhenAdded       time.Time      `json:"whenAdded"`
	WhenLastUpdated time.Time      `json:"whenLastUpdated"`
	WhenSynced      *time.Time     `json:"whenSynced,omitempty"`
}

func (l *RobotLog) Collection() string      { return "robotLogs" }
func (l *RobotLog) DocumentID() string      { return l.ID }
func (l *RobotLog) SetDocumentID(id string) { l.ID = id }

// IsSynced reports whether the log has been pushed to a synchronization source.
func (l *RobotLog) IsSynced() bool {
	return l.WhenSynced != nil && !l.WhenSynced.Before(l.WhenLastUpdated)
}
