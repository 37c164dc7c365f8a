package types

import (
	"encoding/json"
	"strconv"
)

// MessageType identifies the purpose of a Message. The numeric values are a
// wire contract shared with robots and browser clients and must never change.
type MessageType int

const (
	MessageTypeUnknown MessageType = 0

	MessageTypeAuthenticate  MessageType = 1
	MessageTypeAuthenticated MessageType = 2

	MessageTypeRequestRobot      MessageType = 11
	MessageTypeRobotAllocated    MessageType = 12
	MessageTypeNoRobotsAvailable MessageType = 13

	MessageTypeTransferProgram         MessageType = 20
	MessageTypeProgramTransferred      MessageType = 21
	MessageTypeDownloadProgram         MessageType = 22
	MessageTypeProgramDownloaded       MessageType = 23
	MessageTypeUnableToDownloadProgram MessageType = 24

	MessageTypeStartProgram    MessageType = 101
	MessageTypeProgramStarted  MessageType = 102
	MessageTypeProgramFinished MessageType = 103

	MessageTypeStopProgram    MessageType = 201
	MessageTypeProgramStopped MessageType = 202

	MessageTypeRobotStateUpdate  MessageType = 501
	MessageTypeRobotDebugMessage MessageType = 502
	MessageTypeRobotError        MessageType = 503

	MessageTypeError            MessageType = 1000
	MessageTypeNotAuthenticated MessageType = 1001
	MessageTypeForbidden        MessageType = 1002

	MessageTypeStartMonitoring MessageType = 1100
	MessageTypeStopMonitoring  MessageType = 1101
	MessageTypeClientAdded     MessageType = 1102
	MessageTypeClientRemoved   MessageType = 1103

	MessageTypeAlertsRequest  MessageType = 1200
	MessageTypeAlertBroadcast MessageType = 1201
)

var messageTypeNames = map[MessageType]string{
	MessageTypeUnknown:                 "Unknown",
	MessageTypeAuthenticate:            "Authenticate",
	MessageTypeAuthenticated:           "Authenticated",
	MessageTypeRequestRobot:            "RequestRobot",
	MessageTypeRobotAllocated:          "RobotAllocated",
	MessageTypeNoRobotsAvailable:       "NoRobotsAvailable",
	MessageTypeTransferProgram:         "TransferProgram",
	MessageTypeProgramTransferred:      "ProgramTransferred",
	MessageTypeDownloadProgram:         "DownloadProgram",
	MessageTypeProgramDownloaded:       "ProgramDownloaded",
	MessageTypeUnableToDownloadProgram: "UnableToDownloadProgram",
	MessageTypeStartProgram:            "StartProgram",
	MessageTypeProgramStarted:          "ProgramStarted",
	MessageTypeProgramFinished:         "ProgramFinished",
	MessageTypeStopProgram:             "StopProgram",
	MessageTypeProgramStopped:          "ProgramStopped",
	MessageTypeRobotStateUpdate:        "RobotStateUpdate",
	MessageTypeRobotDebugMessage:       "RobotDebugMessage",
	MessageTypeRobotError:              "RobotError",
	MessageTypeError:                   "Error",
	MessageTypeNotAuthenticated:        "NotAuthenticated",
	MessageTypeForbidden:               "Forbidden",
	MessageTypeStartMonitoring:         "StartMonitoring",
	MessageTypeStopMonitoring:          "StopMonitoring",
	MessageTypeClientAdded:             "ClientAdded",
	MessageTypeClientRemoved:           "ClientRemoved",
	MessageTypeAlertsRequest:           "AlertsRequest",
	MessageTypeAlertBroadcast:          "AlertBroadcast",
}

// String returns the name used in logs and error replies. Values outside the
// known set render as their number so nothing is lost in diagnostics.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// Message is the envelope exchanged between the server, users, robots and
// monitors. ConversationID correlates a request, its replies and any streamed
// updates; nil means the message is not part of a conversation.
// ARCHITECTURAL DISCOVERY: values are flat strings only so the same shape can be
// carried by both the JSON and the binary frame encodings.
type Message struct {
	ConversationID *int64      `json:"conversationId,omitempty"`
	Type           MessageType `json:"type"`
	Values         Values      `json:"values"`
}

// NewMessage creates an empty message of the given type.
func NewMessage(t MessageType) *Message {
	return &Message{Type: t}
}

// Reply creates a message of type t in the same conversation as m.
func (m *Message) Reply(t MessageType) *Message {
	reply := &Message{Type: t}
	if m.ConversationID != nil {
		id := *m.ConversationID
		reply.ConversationID = &id
	}
	return reply
}

// ErrorReply creates an Error message in the same conversation as m carrying
// text under the "error" key.
func (m *Message) ErrorReply(text string) *Message {
	reply := m.Reply(MessageTypeError)
	reply.Values.Set("error", text)
	return reply
}

// Clone returns a deep copy so the copy can be queued or logged independently.
func (m *Message) Clone() *Message {
	c := &Message{Type: m.Type, Values: m.Values.Clone()}
	if m.ConversationID != nil {
		id := *m.ConversationID
		c.ConversationID = &id
	}
	return c
}

// Value returns the value stored under key, or "" when it is not set.
func (m *Message) Value(key string) string {
	v, _ := m.Values.Get(key)
	return v
}

// SetConversation sets the conversation id.
func (m *Message) SetConversation(id int64) {
	m.ConversationID = &id
}

// EncodeJSON renders the message in the text encoding used over WebSockets.
func EncodeJSON(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeJSON parses the text encoding. A payload that cannot be parsed yields
// an empty default Message together with the parse error, so callers can log
// the problem and still treat the result as an ordinary (Unknown) message.
func DecodeJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return &Message{}, err
	}
	return &m, nil
}
