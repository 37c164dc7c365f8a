package model

import "time"

type ConversationType string

const (
	ConversationUnknown        ConversationType = "Unknown"
	ConversationInitialisation ConversationType = "Initialisation"
	ConversationProgram        ConversationType = "Program"
	ConversationSignal         ConversationType = "Signal"
	ConversationLogging        ConversationType = "Logging"
)

// Conversation groups the messages of one exchange, such as a program run.
// It is copied into RobotLog rather than referenced.
type Conversation struct {
	ID               string           `json:"id,omitempty"`
	ConversationID   int64            `json:"conversationId"`
	ConversationType ConversationType `json:"conversationType"`
	SourceID         string           `json:"sourceId"`
	SourceName       string           `json:"sourceName"`
	SourceType       string           `json:"sourceType"`
}

func (c *Conversation) Collection() string      { return "conversations" }
func (c *Conversation) DocumentID() string      { return c.ID }
func (c *Conversation) SetDocumentID(id string) { c.ID = id }

// NamedValue is an ordered name/value pair.
type NamedValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SystemValues holds server-wide counters. There is one document.
type SystemValues struct {
	ID                 string `json:"id"`
	NextConversationID int64  `json:"nextConversationId"`
}

func (v *SystemValues) Collection() string      { return "systemValues" }
func (v *SystemValues) DocumentID() string      { return v.ID }
func (v *SystemValues) SetDocumentID(id string) { v.ID = id }

// Snapshot is a saved editor or robot state.
type Snapshot struct {
	ID        string       `json:"id"`
	Source    string       `json:"source"`
	State     string       `json:"state"`
	UserID    string       `json:"userId"`
	Values    []NamedValue `json:"values,omitempty"`
	WhenAdded time.Time    `json:"whenAdded"`
}

func (s *Snapshot) Collection() string      { return "snapshots" }
func (s *Snapshot) DocumentID() string      { return s.ID }
func (s *Snapshot) SetDocumentID(id string) { s.ID = id }
