package processor

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"time"

	"roboclass/internal/auth"
	"roboclass/internal/commands"
	"roboclass/internal/engine"
	"roboclass/internal/hub"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// authenticate binds a user or robot to the connection from a session token
// and opens the conversation the client will use from then on.
func (p *Processor) authenticate(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	p.logger.Info("Authenticating", "client", conn.ID())
	token, ok := msg.Values.Get("token")
	if !ok {
		p.reply(conn, msg.ErrorReply("Token is missing"))
		return nil
	}

	claims, err := p.tokens.Parse(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenMissing):
			p.reply(conn, msg.ErrorReply("Token is missing"))
		case errors.Is(err, auth.ErrTokenMissingSession):
			p.reply(conn, msg.ErrorReply("Token is invalid: missing session"))
		default:
			p.reply(conn, msg.ErrorReply("Token is invalid"))
		}
		return nil
	}

	session, err := store.Load[model.Session](ctx, e.Session(), claims.SessionID)
	if err != nil {
		return err
	}
	if session == nil || !session.IsActive(p.clock.Now()) {
		p.reply(conn, msg.ErrorReply("Session is invalid"))
		return nil
	}
	if session.UserID == "" {
		p.reply(conn, msg.ErrorReply("Session is invalid: missing id"))
		return nil
	}

	if session.IsRobot {
		ok, err = p.authenticateRobot(ctx, e, conn, msg, session.UserID)
	} else {
		ok, err = p.authenticateUser(ctx, e, conn, msg, session.UserID)
	}
	if err != nil || !ok {
		return err
	}

	added := hub.ClientAddedMessage(conn)
	conn.LogMessage(added)
	p.hub.SendToMonitors(added)
	p.reply(conn, msg.Reply(types.MessageTypeAuthenticated))
	return nil
}

func (p *Processor) authenticateRobot(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message, robotID string) (bool, error) {
	robot, err := store.Load[model.Robot](ctx, e.Session(), robotID)
	if err != nil {
		return false, err
	}
	if robot == nil {
		p.reply(conn, msg.ErrorReply("Session is invalid: missing robot"))
		return false, nil
	}

	subType := ""
	if robot.RobotTypeID != "" {
		robotType, err := store.Load[model.RobotType](ctx, e.Session(), robot.RobotTypeID)
		if err != nil {
			return false, err
		}
		if robotType != nil {
			subType = robotType.Name
		}
	}

	p.logger.Info("Authenticated robot", "robot", robot.MachineName, "client", conn.ID())
	ok, err := p.startConversation(ctx, e, conn, msg, &commands.StartRobotConversation{
		Name: robot.MachineName,
		Type: model.ConversationInitialisation,
	})
	if err != nil || !ok {
		return false, err
	}

	conn.SetRobot(&types.Identity{
		ID:          robot.ID,
		Name:        robot.MachineName,
		DisplayName: robot.FriendlyName,
		SubType:     subType,
	})
	if conn.Type() == types.ClientUnknown {
		conn.SetType(types.ClientRobot)
	}
	// Frames to the robot are numbered from zero again starting with Authenticated.
	if r, ok := conn.(sequenceRestarter); ok {
		r.RestartSequence()
	}
	return true, p.addToRobotLog(ctx, e, robot.MachineName, msg, "Robot authenticated")
}

func (p *Processor) authenticateUser(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message, userID string) (bool, error) {
	user, err := store.Load[model.User](ctx, e.Session(), userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		p.reply(conn, msg.ErrorReply("Session is invalid: missing user"))
		return false, nil
	}

	p.logger.Info("Authenticated user", "user", user.Name, "client", conn.ID())
	ok, err := p.startConversation(ctx, e, conn, msg, &commands.StartUserConversation{
		Name: user.Name,
		Type: model.ConversationProgram,
	})
	if err != nil || !ok {
		return false, err
	}

	conn.SetUser(&types.Identity{
		ID:          user.ID,
		Name:        user.Name,
		DisplayName: user.Name,
		SubType:     string(user.Role),
	})
	if conn.Type() == types.ClientUnknown {
		conn.SetType(types.ClientUser)
	}
	return true, nil
}

// startConversation runs a conversation command and moves msg into the new
// conversation so replies and log lines carry its id.
func (p *Processor) startConversation(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message, command engine.Command) (bool, error) {
	result, errs, err := validateAndExecute(ctx, e, command)
	if err != nil {
		return false, err
	}
	conversation, ok := engine.OutputAs[*model.Conversation](result)
	if len(errs) > 0 || !ok {
		for _, ce := range errs {
			p.logger.Warn("Authenticate error", "error", ce.Error)
		}
		p.reply(conn, msg.ErrorReply("Session is invalid: cannot start conversation"))
		return false, nil
	}
	msg.SetConversation(conversation.ConversationID)
	return true, nil
}

// allocateRobot hands an available robot to the requesting user. A user's
// settings can pin a robot: AllocationMode 1 insists on it, 2 falls back to any
// robot. Otherwise the least recently allocated robot wins, ties broken at
// random.
func (p *Processor) allocateRobot(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	identity := conn.User()
	p.logger.Info("Attempting to allocate robot", "user", identity.Name)

	user, err := store.Load[model.User](ctx, e.Session(), identity.ID)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	robots := p.hub.GetClients(types.ClientRobot)
	var next interfaces.Connection
	if user != nil && user.Settings.AllocationMode > 0 {
		for _, robot := range robots {
			if r := robot.Robot(); r != nil && r.Name == user.Settings.RobotID && robot.TryAllocate(now) {
				next = robot
				break
			}
		}
		if next == nil && user.Settings.AllocationMode == 1 {
			p.logger.Info("Robot is not available for allocation", "robot", user.Settings.RobotID)
			p.reply(conn, msg.Reply(types.MessageTypeNoRobotsAvailable))
			return nil
		}
	}

	if next == nil {
		next = selectRobot(robots, now)
	}
	if next == nil {
		p.logger.Info("No robots available for allocation", "user", identity.Name)
		p.reply(conn, msg.Reply(types.MessageTypeNoRobotsAvailable))
		return nil
	}

	next.AddListener(conn)
	response := msg.Reply(types.MessageTypeRobotAllocated)
	response.Values.Set("robot", strconv.FormatInt(next.ID(), 10))
	p.reply(conn, response)
	conn.LogMessage(response)
	p.sendToMonitors(conn, response)

	machineName := next.Robot().Name
	p.logger.Info("Allocated robot", "robot", machineName, "client", next.ID(), "user", identity.Name)
	return p.addToRobotLog(ctx, e, machineName, msg, "Robot allocated to user")
}

// selectRobot claims the least recently allocated available robot.
// TECHNICAL DISCOVERY: Candidates are shuffled before the stable sort so
// robots that have never been allocated share the load instead of the lowest
// client id always winning.
func selectRobot(robots []interfaces.Connection, now time.Time) interfaces.Connection {
	type candidate struct {
		conn interfaces.Connection
		last time.Time
	}
	var candidates []candidate
	for _, robot := range robots {
		if status := robot.Status(); status.IsAvailable && robot.Robot() != nil {
			candidates = append(candidates, candidate{robot, status.LastAllocatedTime})
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		return a.last.Compare(b.last)
	})

	for _, c := range candidates {
		if c.conn.TryAllocate(now) {
			return c.conn
		}
	}
	return nil
}

func (p *Processor) transferProgram(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	robot, ok := p.retrieveRobot(conn, msg)
	if !ok {
		return nil
	}
	text, programID, ok := p.programID(conn, msg)
	if !ok {
		return nil
	}

	// FUNCTIONAL DISCOVERY: LastUpdateTime starts now so the stalled robot
	// sweep gives the download a full timeout before stopping it.
	robot.SetRobotDetails(&types.RobotStatus{
		LastProgramID:  programID,
		LastUpdateTime: p.clock.Now(),
	})
	download := msg.Reply(types.MessageTypeDownloadProgram)
	download.Values.Set("program", text)
	download.Values.Set("user", conn.User().Name)
	p.reply(robot, download)
	return p.logForRobot(ctx, e, robot, msg, "Program transferring")
}

func (p *Processor) startProgram(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	robot, ok := p.retrieveRobot(conn, msg)
	if !ok {
		return nil
	}
	text, _, ok := p.programID(conn, msg)
	if !ok {
		return nil
	}
	opts, ok := msg.Values.Get("opts")
	if !ok {
		opts = "{}"
	}

	p.logger.Info("Starting program", "program", text, "opts", opts, "client", robot.ID())
	start := msg.Reply(types.MessageTypeStartProgram)
	start.Values.Set("program", text)
	start.Values.Set("opts", opts)
	p.reply(robot, start)
	return p.logForRobot(ctx, e, robot, msg, "Program starting")
}

func (p *Processor) stopProgram(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	robot, ok := p.retrieveRobot(conn, msg)
	if !ok {
		// The user interface still needs to leave its running state.
		p.reply(conn, msg.Reply(types.MessageTypeProgramStopped))
		return nil
	}

	p.logger.Info("Stopping program", "client", robot.ID())
	p.reply(robot, msg.Reply(types.MessageTypeStopProgram))
	return p.logForRobot(ctx, e, robot, msg, "Program stopping")
}

func (p *Processor) logForRobot(ctx context.Context, e *engine.Engine, robot interfaces.Connection, msg *types.Message, description string) error {
	identity := robot.Robot()
	if identity == nil {
		p.logger.Warn("Unable to add to log: robot is missing", "client", robot.ID())
		return nil
	}
	return p.addToRobotLog(ctx, e, identity.Name, msg, description)
}

// broadcast returns a handler that relays a robot message to its listeners and
// the monitors. includeValues copies the inbound values onto the relay.
func (p *Processor) broadcast(t types.MessageType, description string, includeValues bool) handlerFunc {
	return func(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
		var values *types.Values
		if includeValues {
			values = &msg.Values
		}
		return p.doBroadcast(ctx, e, conn, msg, t, description, values)
	}
}

func (p *Processor) doBroadcast(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message, t types.MessageType, description string, values *types.Values) error {
	out := msg.Reply(t)
	if values != nil {
		out.Values.Merge(*values)
	}

	conn.NotifyListeners(out)
	conn.LogMessage(out)
	p.sendToMonitors(conn, out)
	if robot := conn.Robot(); robot != nil {
		return p.addToRobotLog(ctx, e, robot.Name, msg, description)
	}
	return nil
}

func (p *Processor) programDownloaded(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	programID := "0"
	if details := conn.RobotDetails(); details != nil {
		programID = strconv.FormatInt(details.LastProgramID, 10)
	}
	var values types.Values
	values.Set("ProgramId", programID)
	return p.doBroadcast(ctx, e, conn, msg, types.MessageTypeProgramTransferred, "Program has been transferred", &values)
}

func (p *Processor) robotDebugMessage(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if err := p.doBroadcast(ctx, e, conn, msg, types.MessageTypeRobotDebugMessage, "Debug information received", &msg.Values); err != nil {
		return err
	}

	sourceID, _ := msg.Values.Get("sourceID")
	now := p.clock.Now()
	conn.UpdateRobotDetails(func(details *types.RobotStatus) {
		if strings.TrimSpace(sourceID) != "" {
			details.SourceIDs = append(details.SourceIDs, sourceID)
		}
		details.LastUpdateTime = now
	})
	return nil
}

// robotStateUpdate records the robot's reported state. Only "Waiting" makes a
// robot available for allocation.
func (p *Processor) robotStateUpdate(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientRobot) {
		return nil
	}

	status := conn.Status()
	if state, ok := msg.Values.Get("state"); ok {
		status.IsAvailable = state == "Waiting"
		status.Message = state
		if strings.TrimSpace(state) == "" {
			status.Message = "Unknown"
		}
		p.logger.Info("Updating robot state", "robot", conn.Robot().Name, "state", status.Message)
	} else {
		status.Message = "Unknown"
	}
	conn.SetStatus(status)

	out := msg.Reply(types.MessageTypeRobotStateUpdate)
	out.Values.Merge(msg.Values)
	conn.NotifyListeners(out)
	conn.LogMessage(out)
	p.sendToMonitors(conn, out)

	if err := p.addToRobotLog(ctx, e, conn.Robot().Name, msg, "State updated to "+status.Message); err != nil {
		return err
	}

	now := p.clock.Now()
	conn.UpdateRobotDetails(func(details *types.RobotStatus) {
		details.LastUpdateTime = now
	})
	return nil
}

func (p *Processor) startMonitoring(_ context.Context, _ *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	h := conn.Hub()
	if h == nil {
		p.reply(conn, msg.ErrorReply("Client not connected to Hub"))
		return nil
	}
	h.AddMonitor(conn)
	return nil
}

// stopMonitoring unsubscribes from topology broadcasts. The connection stays
// registered as a client.
func (p *Processor) stopMonitoring(_ context.Context, _ *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	h := conn.Hub()
	if h == nil {
		p.reply(conn, msg.ErrorReply("Client not connected to Hub"))
		return nil
	}
	h.RemoveMonitor(conn)
	return nil
}

// alertsRequest replays a robot's stored alerts to the requesting user.
func (p *Processor) alertsRequest(_ context.Context, _ *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientUser) {
		return nil
	}
	robot, ok := p.retrieveRobot(conn, msg)
	if !ok {
		return nil
	}

	for _, alert := range robot.Notifications() {
		out := alertMessage(alert)
		populateSourceValues(robot, out)
		p.reply(conn, out)
	}
	return nil
}

// alertBroadcast stores an alert raised by a robot and forwards it to the
// monitors. Severity defaults to "info" and an unreadable id becomes -1.
func (p *Processor) alertBroadcast(_ context.Context, _ *engine.Engine, conn interfaces.Connection, msg *types.Message) error {
	if !p.validateRequest(conn, msg, types.ClientRobot) {
		return nil
	}

	id := -1
	if text, ok := msg.Values.Get("id"); ok {
		if parsed, err := strconv.Atoi(text); err == nil {
			id = parsed
		}
	}
	severity := msg.Value("severity")
	if severity == "" {
		severity = "info"
	}
	alert := types.NotificationAlert{
		ID:        id,
		Message:   msg.Value("message"),
		Severity:  severity,
		WhenAdded: p.clock.Now(),
	}

	conn.AddNotification(alert)
	p.sendToMonitors(conn, alertMessage(alert))
	return nil
}
