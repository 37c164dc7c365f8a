package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// CommandLog is the audit record written after every Apply.
type CommandLog struct {
	ID          string          `json:"id"`
	Command     json.RawMessage `json:"command"`
	Type        string          `json:"type"`
	Result      *Result         `json:"result"`
	WhenApplied time.Time       `json:"whenApplied"`
}

func (l *CommandLog) Collection() string      { return "commandLogs" }
func (l *CommandLog) DocumentID() string      { return l.ID }
func (l *CommandLog) SetDocumentID(id string) { l.ID = id }

// CommandType returns the type name of command with any "Command" suffix removed.
func CommandType(command Command) string {
	t := reflect.TypeOf(command)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.TrimSuffix(t.Name(), "Command")
}

func newCommandLog(command Command, result *Result) (*CommandLog, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, err
	}
	return &CommandLog{
		Command:     body,
		Type:        CommandType(command),
		Result:      result,
		WhenApplied: command.Base().WhenExecuted,
	}, nil
}
