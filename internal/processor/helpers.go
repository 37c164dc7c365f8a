package processor

import (
	"context"
	"strconv"

	"roboclass/internal/commands"
	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// sequenceRestarter is implemented by connections whose transport numbers
// outbound frames.
type sequenceRestarter interface {
	RestartSequence()
}

// validateRequest replies NotAuthenticated to anonymous clients and Forbidden
// when the client is not of the required kind. ClientUnknown requires only
// authentication.
func (p *Processor) validateRequest(conn interfaces.Connection, msg *types.Message, required types.ClientType) bool {
	if conn.User() == nil && conn.Robot() == nil {
		p.reply(conn, msg.Reply(types.MessageTypeNotAuthenticated))
		return false
	}

	switch required {
	case types.ClientRobot:
		if conn.Robot() == nil {
			p.reply(conn, msg.Reply(types.MessageTypeForbidden))
			return false
		}
	case types.ClientUser:
		if conn.User() == nil {
			p.reply(conn, msg.Reply(types.MessageTypeForbidden))
			return false
		}
	}
	return true
}

// retrieveRobot resolves the "robot" value to a live connection, replying with
// an Error when it cannot.
func (p *Processor) retrieveRobot(conn interfaces.Connection, msg *types.Message) (interfaces.Connection, bool) {
	code, ok := msg.Values.Get("robot")
	if !ok {
		p.reply(conn, msg.ErrorReply("Robot is missing"))
		return nil, false
	}

	id, err := strconv.ParseInt(code, 10, 64)
	if err != nil {
		p.reply(conn, msg.ErrorReply("Robot id is invalid"))
		return nil, false
	}

	robot := p.hub.GetClient(id)
	if robot == nil {
		p.reply(conn, msg.ErrorReply("Robot is no longer connected"))
		return nil, false
	}
	return robot, true
}

// programID reads the "program" value, replying with an Error when it is
// missing or not a number.
func (p *Processor) programID(conn interfaces.Connection, msg *types.Message) (string, int64, bool) {
	text, ok := msg.Values.Get("program")
	if !ok {
		p.reply(conn, msg.ErrorReply("Program ID is missing"))
		return "", 0, false
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		p.reply(conn, msg.ErrorReply("Program ID is invalid"))
		return "", 0, false
	}
	return text, id, true
}

// populateSourceValues tags msg with the client it came from so monitors can
// attribute it.
func populateSourceValues(conn interfaces.Connection, msg *types.Message) {
	msg.Values.Set("SourceClientId", strconv.FormatInt(conn.ID(), 10))
	switch conn.Type() {
	case types.ClientRobot:
		msg.Values.Set("SourceType", "Robot")
		if robot := conn.Robot(); robot != nil {
			msg.Values.Set("SourceName", robot.Name)
		}
	case types.ClientUser:
		msg.Values.Set("SourceType", "User")
		if user := conn.User(); user != nil {
			msg.Values.Set("SourceName", user.Name)
		}
	default:
		msg.Values.Set("SourceType", "Unknown")
	}
}

// sendToMonitors forwards a tagged copy of msg to every monitor.
func (p *Processor) sendToMonitors(conn interfaces.Connection, msg *types.Message) {
	copied := msg.Clone()
	populateSourceValues(conn, copied)
	p.hub.SendToMonitors(copied)
}

// validateAndExecute runs command through the engine. Command errors are
// returned as data; err is only set for engine failures.
func validateAndExecute(ctx context.Context, e *engine.Engine, command engine.Command) (*engine.Result, []engine.CommandError, error) {
	errs, err := e.Validate(ctx, command)
	if err != nil {
		return nil, nil, err
	}
	if len(errs) > 0 {
		return command.Base().Failure("Validation failed"), errs, nil
	}

	result, err := e.Execute(ctx, command)
	if err != nil {
		return result, nil, err
	}
	return result, result.ToErrors(), nil
}

// addToRobotLog appends msg to the log of the robot called machineName. Command
// errors are logged and otherwise ignored so logging never blocks routing.
func (p *Processor) addToRobotLog(ctx context.Context, e *engine.Engine, machineName string, msg *types.Message, description string) error {
	if msg.ConversationID == nil {
		p.logger.Warn("Broadcast error", "error", "Adding to a robot log requires a conversation", "robot", machineName)
		return nil
	}

	command := &commands.AddToRobotLog{
		MachineName:       machineName,
		Description:       description,
		SourceMessageType: msg.Type,
		ConversationID:    *msg.ConversationID,
	}
	msg.Values.Range(func(key, value string) {
		command.Values = append(command.Values, model.NamedValue{Name: key, Value: value})
	})

	_, errs, err := validateAndExecute(ctx, e, command)
	if err != nil {
		return err
	}
	for _, ce := range errs {
		p.logger.Warn("Broadcast error", "error", ce.Error, "robot", machineName)
	}
	return nil
}

func alertMessage(alert types.NotificationAlert) *types.Message {
	msg := types.NewMessage(types.MessageTypeAlertBroadcast)
	msg.Values.Set("id", strconv.Itoa(alert.ID))
	msg.Values.Set("message", alert.Message)
	msg.Values.Set("severity", alert.Severity)
	return msg
}
