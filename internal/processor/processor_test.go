package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"roboclass/internal/auth"
	"roboclass/internal/clock"
	"roboclass/internal/connection"
	"roboclass/internal/engine"
	"roboclass/internal/hub"
	"roboclass/internal/logging"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

// fakeTokens maps tokens to session ids.
type fakeTokens map[string]string

func (f fakeTokens) Parse(token string) (*auth.Claims, error) {
	switch token {
	case "":
		return nil, auth.ErrTokenMissing
	case "no-session":
		return nil, auth.ErrTokenMissingSession
	}
	id, ok := f[token]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	return &auth.Claims{SessionID: id}, nil
}

type fixture struct {
	t         *testing.T
	backend   *store.MemoryBackend
	db        *store.Database
	clock     *clock.FakeClock
	hub       *hub.Hub
	tokens    fakeTokens
	processor *Processor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	backend := store.NewMemoryBackend()
	db := store.NewDatabase(backend)
	clk := clock.Fake(testNow)
	h := hub.New(hub.DefaultConfig(), clk, logging.Discard())
	tokens := fakeTokens{}
	factory := engine.NewFactory(db, logging.Discard(), clk, nil)
	return &fixture{
		t:         t,
		backend:   backend,
		db:        db,
		clock:     clk,
		hub:       h,
		tokens:    tokens,
		processor: New(h, factory, tokens, clk, logging.Discard(), cfg),
	}
}

func (f *fixture) seed(docs ...store.Document) {
	f.t.Helper()
	ctx := context.Background()
	s := f.db.StartSession()
	defer s.Close()
	for _, doc := range docs {
		if err := s.Store(ctx, doc); err != nil {
			f.t.Fatalf("seed failed: %v", err)
		}
	}
	if err := s.SaveChanges(ctx); err != nil {
		f.t.Fatalf("seed failed: %v", err)
	}
}

// connect registers a client that is never run, so everything sent to it
// stays in its pending queue.
func (f *fixture) connect(t types.ClientType) *connection.Connection {
	conn := connection.New(nil, t, f.processor, connection.Config{}, logging.Discard())
	f.hub.AddClient(conn)
	return conn
}

func (f *fixture) userClient(name string) *connection.Connection {
	conn := f.connect(types.ClientUser)
	conn.SetUser(&types.Identity{ID: "user-" + name, Name: name, DisplayName: name, SubType: "Student"})
	return conn
}

func (f *fixture) robotClient(name string, available bool) *connection.Connection {
	conn := f.connect(types.ClientRobot)
	conn.SetRobot(&types.Identity{ID: "robot-" + name, Name: name, DisplayName: name})
	conn.SetStatus(types.ClientStatus{IsAvailable: available, Message: "Waiting"})
	return conn
}

func (f *fixture) process(conn interfaces.Connection, msg *types.Message) {
	f.processor.Process(context.Background(), conn, msg)
}

func (f *fixture) robotLogs() []*model.RobotLog {
	f.t.Helper()
	s := f.db.StartSession()
	defer s.Close()
	logs, err := store.Query[model.RobotLog](context.Background(), s, nil)
	if err != nil {
		f.t.Fatalf("Query failed: %v", err)
	}
	return logs
}

func messagesOf(conn interfaces.Connection, t types.MessageType) []*types.Message {
	var out []*types.Message
	for _, msg := range conn.PendingMessages() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func onlyMessage(t *testing.T, conn interfaces.Connection) *types.Message {
	t.Helper()
	pending := conn.PendingMessages()
	if len(pending) != 1 {
		t.Fatalf("Expected exactly one message, got %d: %v", len(pending), pending)
	}
	return pending[0]
}

func newMessage(t types.MessageType, conversation int64, values ...string) *types.Message {
	msg := types.NewMessage(t)
	if conversation != 0 {
		msg.SetConversation(conversation)
	}
	for i := 0; i+1 < len(values); i += 2 {
		msg.Values.Set(values[i], values[i+1])
	}
	return msg
}

func TestProcess_UnknownMessageType(t *testing.T) {
	tests := []struct {
		msgType  types.MessageType
		expected string
	}{
		{types.MessageTypeUnknown, "Unable to find processor for Unknown"},
		{types.MessageTypeAuthenticated, "Unable to find processor for Authenticated"},
		{types.MessageType(9999), "Unable to find processor for 9999"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			f := newFixture(t, Config{})
			conn := f.connect(types.ClientUser)
			f.process(conn, newMessage(tt.msgType, 4))

			reply := onlyMessage(t, conn)
			if reply.Type != types.MessageTypeError {
				t.Fatalf("Expected Error, got %v", reply.Type)
			}
			if reply.Value("error") != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, reply.Value("error"))
			}
			if reply.ConversationID == nil || *reply.ConversationID != 4 {
				t.Error("Error reply should keep the conversation id")
			}
		})
	}
}

func TestProcess_HandlerPanicBecomesError(t *testing.T) {
	f := newFixture(t, Config{})
	f.processor.handlers[types.MessageTypeAuthenticated] = func(context.Context, *engine.Engine, interfaces.Connection, *types.Message) error {
		panic("boom")
	}
	conn := f.connect(types.ClientUser)

	f.process(conn, newMessage(types.MessageTypeAuthenticated, 0))

	reply := onlyMessage(t, conn)
	if reply.Value("error") != "Unable to process message: boom" {
		t.Errorf("Unexpected error text %q", reply.Value("error"))
	}
}

func TestProcess_HandlerErrorBecomesError(t *testing.T) {
	f := newFixture(t, Config{})
	f.processor.handlers[types.MessageTypeAuthenticated] = func(context.Context, *engine.Engine, interfaces.Connection, *types.Message) error {
		return errors.New("store offline")
	}
	conn := f.connect(types.ClientUser)

	f.process(conn, newMessage(types.MessageTypeAuthenticated, 0))

	if got := onlyMessage(t, conn).Value("error"); got != "Unable to process message: store offline" {
		t.Errorf("Unexpected error text %q", got)
	}
}

func TestProcess_SaveFailureBecomesError(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(
		&model.User{ID: "u1", Name: "mia", Role: model.RoleStudent},
		&model.Session{ID: "s1", UserID: "u1", Role: model.RoleStudent, WhenExpires: testNow.Add(time.Hour)},
	)
	f.tokens["good"] = "s1"
	f.backend.FailCommits(errors.New("disk full"))
	conn := f.connect(types.ClientUnknown)

	f.process(conn, newMessage(types.MessageTypeAuthenticate, 0, "token", "good"))

	errorsSent := messagesOf(conn, types.MessageTypeError)
	if len(errorsSent) != 1 || !strings.HasPrefix(errorsSent[0].Value("error"), "Unable to process message: ") {
		t.Fatalf("Expected one processing error, got %v", conn.PendingMessages())
	}
	if !strings.Contains(errorsSent[0].Value("error"), "disk full") {
		t.Errorf("Error should carry the cause, got %q", errorsSent[0].Value("error"))
	}
}

func TestProcess_RateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute})
	conn := f.connect(types.ClientUser)

	for i := 0; i < 3; i++ {
		f.process(conn, newMessage(types.MessageTypeUnknown, 0))
	}

	pending := conn.PendingMessages()
	if len(pending) != 3 {
		t.Fatalf("Expected 3 replies, got %d", len(pending))
	}
	if got := pending[2].Value("error"); got != "Rate limit exceeded" {
		t.Errorf("Expected rate limit error, got %q", got)
	}

	f.clock.Advance(time.Minute)
	f.process(conn, newMessage(types.MessageTypeUnknown, 0))
	if got := conn.PendingMessages()[3].Value("error"); got != "Unable to find processor for Unknown" {
		t.Errorf("Limit should reset after the window, got %q", got)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		token    *string
		expected string
	}{
		{"no token value", nil, "Token is missing"},
		{"empty token", ptr(""), "Token is missing"},
		{"unreadable token", ptr("garbage"), "Token is invalid"},
		{"token without session", ptr("no-session"), "Token is invalid: missing session"},
		{"unknown session", ptr("unknown"), "Session is invalid"},
		{"expired session", ptr("expired"), "Session is invalid"},
		{"session without owner", ptr("orphan"), "Session is invalid: missing id"},
		{"deleted user", ptr("ghost-user"), "Session is invalid: missing user"},
		{"deleted robot", ptr("ghost-robot"), "Session is invalid: missing robot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.seed(
				&model.Session{ID: "expired", UserID: "u1", WhenExpires: testNow.Add(-time.Minute)},
				&model.Session{ID: "orphan", WhenExpires: testNow.Add(time.Hour)},
				&model.Session{ID: "ghost-user", UserID: "nobody", WhenExpires: testNow.Add(time.Hour)},
				&model.Session{ID: "ghost-robot", UserID: "nothing", IsRobot: true, WhenExpires: testNow.Add(time.Hour)},
			)
			f.tokens["unknown"] = "missing"
			f.tokens["expired"] = "expired"
			f.tokens["orphan"] = "orphan"
			f.tokens["ghost-user"] = "ghost-user"
			f.tokens["ghost-robot"] = "ghost-robot"
			conn := f.connect(types.ClientUnknown)

			msg := newMessage(types.MessageTypeAuthenticate, 0)
			if tt.token != nil {
				msg.Values.Set("token", *tt.token)
			}
			f.process(conn, msg)

			reply := onlyMessage(t, conn)
			if reply.Type != types.MessageTypeError || reply.Value("error") != tt.expected {
				t.Errorf("Expected %q, got %v %q", tt.expected, reply.Type, reply.Value("error"))
			}
			if conn.User() != nil || conn.Robot() != nil {
				t.Error("Failed authentication must not bind an identity")
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestAuthenticate_User(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(
		&model.User{ID: "u1", Name: "mia", Role: model.RoleStudent},
		&model.Session{ID: "s1", UserID: "u1", Role: model.RoleStudent, WhenExpires: testNow.Add(time.Hour)},
	)
	f.tokens["good"] = "s1"
	monitor := f.userClient("teacher")
	f.hub.AddMonitor(monitor)
	conn := f.connect(types.ClientUnknown)

	f.process(conn, newMessage(types.MessageTypeAuthenticate, 0, "token", "good"))

	reply := onlyMessage(t, conn)
	if reply.Type != types.MessageTypeAuthenticated {
		t.Fatalf("Expected Authenticated, got %v %q", reply.Type, reply.Value("error"))
	}
	if reply.ConversationID == nil || *reply.ConversationID != 1 {
		t.Errorf("Authenticated should carry the new conversation id, got %v", reply.ConversationID)
	}
	if conn.Type() != types.ClientUser {
		t.Errorf("Expected client type to become user, got %v", conn.Type())
	}
	if user := conn.User(); user == nil || user.Name != "mia" || !user.IsStudent() {
		t.Errorf("Unexpected identity %+v", user)
	}
	if f.backend.Count("conversations") != 1 {
		t.Errorf("Expected one stored conversation, got %d", f.backend.Count("conversations"))
	}

	var announced *types.Message
	for _, msg := range messagesOf(monitor, types.MessageTypeClientAdded) {
		if msg.Value("Name") == "mia" {
			announced = msg
		}
	}
	if announced == nil {
		t.Fatal("Monitor should be told about the authenticated user")
	}
	if announced.Value("Type") != "user" || announced.Value("SubType") != "Student" || announced.Value("IsStudent") != "yes" {
		t.Errorf("Unexpected ClientAdded values %v", announced.Values.Map())
	}
}

func TestAuthenticate_RobotWithSignedToken(t *testing.T) {
	f := newFixture(t, Config{})
	tokens, err := auth.NewTokenService(auth.Config{Secret: "classroom"}, f.clock)
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	f.processor.tokens = tokens

	session := &model.Session{ID: "rs1", UserID: "r1", Role: model.RoleRobot, IsRobot: true, WhenExpires: testNow.Add(time.Hour)}
	f.seed(
		&model.RobotType{ID: "t1", Name: "Nao"},
		&model.Robot{ID: "r1", MachineName: "karetao", FriendlyName: "Mihi", RobotTypeID: "t1"},
		session,
	)
	token, err := tokens.Issue(session)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	conn := f.connect(types.ClientUnknown)

	f.process(conn, newMessage(types.MessageTypeAuthenticate, 0, "token", token))

	reply := onlyMessage(t, conn)
	if reply.Type != types.MessageTypeAuthenticated {
		t.Fatalf("Expected Authenticated, got %v %q", reply.Type, reply.Value("error"))
	}
	if conn.Type() != types.ClientRobot {
		t.Errorf("Expected client type to become robot, got %v", conn.Type())
	}
	robot := conn.Robot()
	if robot == nil || robot.Name != "karetao" || robot.DisplayName != "Mihi" || robot.SubType != "Nao" {
		t.Errorf("Unexpected identity %+v", robot)
	}

	added := conn.MessageLog()
	if len(added) != 1 || added[0].Type != types.MessageTypeClientAdded || added[0].Value("Name") != "Mihi" {
		t.Errorf("Expected ClientAdded in the message log, got %v", added)
	}

	logs := f.robotLogs()
	if len(logs) != 1 {
		t.Fatalf("Expected one robot log, got %d", len(logs))
	}
	if logs[0].Conversation.ConversationType != model.ConversationInitialisation {
		t.Errorf("Expected an initialisation conversation, got %v", logs[0].Conversation.ConversationType)
	}
	if len(logs[0].Lines) != 1 || logs[0].Lines[0].Description != "Robot authenticated" {
		t.Errorf("Unexpected log lines %+v", logs[0].Lines)
	}
}

func TestValidateRequest(t *testing.T) {
	f := newFixture(t, Config{})
	anonymous := f.connect(types.ClientUser)
	robot := f.robotClient("karetao", true)
	user := f.userClient("mia")

	tests := []struct {
		name     string
		conn     interfaces.Connection
		msg      *types.Message
		expected types.MessageType
	}{
		{"anonymous request robot", anonymous, newMessage(types.MessageTypeRequestRobot, 0), types.MessageTypeNotAuthenticated},
		{"robot request robot", robot, newMessage(types.MessageTypeRequestRobot, 0), types.MessageTypeForbidden},
		{"robot starts monitoring", robot, newMessage(types.MessageTypeStartMonitoring, 0), types.MessageTypeForbidden},
		{"user updates robot state", user, newMessage(types.MessageTypeRobotStateUpdate, 0), types.MessageTypeForbidden},
		{"user raises alert", user, newMessage(types.MessageTypeAlertBroadcast, 0), types.MessageTypeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(tt.conn.PendingMessages())
			f.process(tt.conn, tt.msg)
			pending := tt.conn.PendingMessages()
			if len(pending) != before+1 || pending[before].Type != tt.expected {
				t.Errorf("Expected %v reply, got %v", tt.expected, pending[before:])
			}
		})
	}
}

func TestAllocateRobot(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(&model.User{ID: "user-mia", Name: "mia", Role: model.RoleStudent})
	robot := f.robotClient("karetao", true)
	user := f.userClient("mia")
	monitor := f.userClient("teacher")
	f.hub.AddMonitor(monitor)

	f.process(user, newMessage(types.MessageTypeRequestRobot, 0))

	reply := onlyMessage(t, user)
	if reply.Type != types.MessageTypeRobotAllocated || reply.Value("robot") != "1" {
		t.Fatalf("Expected RobotAllocated for client 1, got %v %v", reply.Type, reply.Values.Map())
	}
	if status := robot.Status(); status.IsAvailable || !status.LastAllocatedTime.Equal(testNow) {
		t.Errorf("Robot should be allocated, got %+v", status)
	}
	if listeners := robot.Listeners(); len(listeners) != 1 || listeners[0] != interfaces.Connection(user) {
		t.Error("User should listen to the allocated robot")
	}
	allocated := messagesOf(monitor, types.MessageTypeRobotAllocated)
	if len(allocated) != 1 || allocated[0].Value("SourceType") != "User" || allocated[0].Value("SourceName") != "mia" {
		t.Errorf("Monitor should see the allocation, got %v", allocated)
	}
	if len(reply.Values.Keys()) != 1 {
		t.Errorf("User reply must not carry source values, got %v", reply.Values.Map())
	}

	other := f.userClient("ana")
	f.process(other, newMessage(types.MessageTypeRequestRobot, 0))
	if got := onlyMessage(t, other).Type; got != types.MessageTypeNoRobotsAvailable {
		t.Errorf("Expected NoRobotsAvailable, got %v", got)
	}
}

func TestAllocateRobot_PrefersLeastRecentlyAllocated(t *testing.T) {
	f := newFixture(t, Config{})
	recent := f.robotClient("recent", true)
	recent.SetStatus(types.ClientStatus{IsAvailable: true, LastAllocatedTime: testNow.Add(-time.Minute)})
	older := f.robotClient("older", true)
	older.SetStatus(types.ClientStatus{IsAvailable: true, LastAllocatedTime: testNow.Add(-time.Hour)})
	user := f.userClient("mia")

	f.process(user, newMessage(types.MessageTypeRequestRobot, 0))

	if got := onlyMessage(t, user).Value("robot"); got != "2" {
		t.Errorf("Expected the older robot (client 2), got %s", got)
	}
	if !recent.Status().IsAvailable {
		t.Error("The recently used robot should stay available")
	}
}

func TestAllocateRobot_UserSettings(t *testing.T) {
	tests := []struct {
		name          string
		mode          int
		pinAvailable  bool
		expectedType  types.MessageType
		expectedRobot string
	}{
		{"strict pin available", 1, true, types.MessageTypeRobotAllocated, "1"},
		{"strict pin busy", 1, false, types.MessageTypeNoRobotsAvailable, ""},
		{"preferred pin available", 2, true, types.MessageTypeRobotAllocated, "1"},
		{"preferred pin busy falls back", 2, false, types.MessageTypeRobotAllocated, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.seed(&model.User{
				ID:       "user-mia",
				Name:     "mia",
				Role:     model.RoleStudent,
				Settings: model.UserSettings{AllocationMode: tt.mode, RobotID: "pinned"},
			})
			f.robotClient("pinned", tt.pinAvailable)
			f.robotClient("spare", true)
			user := f.userClient("mia")

			f.process(user, newMessage(types.MessageTypeRequestRobot, 0))

			reply := onlyMessage(t, user)
			if reply.Type != tt.expectedType || reply.Value("robot") != tt.expectedRobot {
				t.Errorf("Expected %v %q, got %v %q", tt.expectedType, tt.expectedRobot, reply.Type, reply.Value("robot"))
			}
		})
	}
}

func TestRobotCommands_Errors(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		expected string
	}{
		{"missing robot", nil, "Robot is missing"},
		{"invalid robot", []string{"robot", "abc"}, "Robot id is invalid"},
		{"disconnected robot", []string{"robot", "99"}, "Robot is no longer connected"},
		{"missing program", []string{"robot", "1"}, "Program ID is missing"},
		{"invalid program", []string{"robot", "1", "program", "first"}, "Program ID is invalid"},
	}

	for _, msgType := range []types.MessageType{types.MessageTypeTransferProgram, types.MessageTypeStartProgram} {
		for _, tt := range tests {
			t.Run(msgType.String()+"/"+tt.name, func(t *testing.T) {
				f := newFixture(t, Config{})
				robot := f.robotClient("karetao", false)
				user := f.userClient("mia")

				f.process(user, newMessage(msgType, 5, tt.values...))

				reply := onlyMessage(t, user)
				if reply.Type != types.MessageTypeError || reply.Value("error") != tt.expected {
					t.Errorf("Expected %q, got %v %q", tt.expected, reply.Type, reply.Value("error"))
				}
				if len(robot.PendingMessages()) != 0 {
					t.Error("Robot must not receive anything")
				}
			})
		}
	}
}

func TestTransferAndStartProgram(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(
		&model.Robot{ID: "r1", MachineName: "karetao"},
		&model.Conversation{ID: "c1", ConversationID: 7, ConversationType: model.ConversationProgram},
	)
	robot := f.robotClient("karetao", false)
	user := f.userClient("mia")

	f.process(user, newMessage(types.MessageTypeTransferProgram, 7, "robot", "1", "program", "42"))

	download := onlyMessage(t, robot)
	if download.Type != types.MessageTypeDownloadProgram || download.Value("program") != "42" || download.Value("user") != "mia" {
		t.Errorf("Unexpected download message %v %v", download.Type, download.Values.Map())
	}
	if *download.ConversationID != 7 {
		t.Errorf("Download should stay in conversation 7, got %d", *download.ConversationID)
	}
	details := robot.RobotDetails()
	if details == nil || details.LastProgramID != 42 || !details.LastUpdateTime.Equal(testNow) {
		t.Errorf("Unexpected robot details %+v", details)
	}

	f.process(user, newMessage(types.MessageTypeStartProgram, 7, "robot", "1", "program", "42"))

	start := messagesOf(robot, types.MessageTypeStartProgram)
	if len(start) != 1 || start[0].Value("opts") != "{}" || start[0].Value("program") != "42" {
		t.Errorf("Unexpected start message %v", start)
	}

	logs := f.robotLogs()
	if len(logs) != 1 || len(logs[0].Lines) != 2 {
		t.Fatalf("Expected one log with two lines, got %+v", logs)
	}
	if logs[0].Lines[0].Description != "Program transferring" || logs[0].Lines[1].Description != "Program starting" {
		t.Errorf("Unexpected log lines %+v", logs[0].Lines)
	}
	if len(user.PendingMessages()) != 0 {
		t.Errorf("User should get no direct reply, got %v", user.PendingMessages())
	}
}

func TestStopProgram(t *testing.T) {
	f := newFixture(t, Config{})
	robot := f.robotClient("karetao", false)
	user := f.userClient("mia")

	f.process(user, newMessage(types.MessageTypeStopProgram, 3, "robot", "1"))
	if got := onlyMessage(t, robot).Type; got != types.MessageTypeStopProgram {
		t.Errorf("Expected StopProgram on the robot, got %v", got)
	}

	f.process(user, newMessage(types.MessageTypeStopProgram, 3, "robot", "42"))
	pending := user.PendingMessages()
	if len(pending) != 2 || pending[0].Type != types.MessageTypeError || pending[1].Type != types.MessageTypeProgramStopped {
		t.Errorf("Expected Error then ProgramStopped, got %v", pending)
	}
}

func TestBroadcastHandlers(t *testing.T) {
	tests := []struct {
		in          types.MessageType
		out         types.MessageType
		description string
		keepsValues bool
	}{
		{types.MessageTypeProgramStarted, types.MessageTypeProgramStarted, "Program started", false},
		{types.MessageTypeProgramFinished, types.MessageTypeProgramFinished, "Program finished", false},
		{types.MessageTypeProgramStopped, types.MessageTypeProgramStopped, "Program stopped", false},
		{types.MessageTypeRobotError, types.MessageTypeRobotError, "An unexpected error has occurred", true},
		{types.MessageTypeUnableToDownloadProgram, types.MessageTypeUnableToDownloadProgram, "Unable to download program", true},
		{types.MessageTypeRobotDebugMessage, types.MessageTypeRobotDebugMessage, "Debug information received", true},
		{types.MessageTypeProgramDownloaded, types.MessageTypeProgramTransferred, "Program has been transferred", false},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			f := newFixture(t, Config{})
			f.seed(
				&model.Robot{ID: "r1", MachineName: "karetao"},
				&model.Conversation{ID: "c1", ConversationID: 7, ConversationType: model.ConversationProgram},
			)
			robot := f.robotClient("karetao", false)
			robot.SetRobotDetails(&types.RobotStatus{LastProgramID: 12})
			user := f.userClient("mia")
			robot.AddListener(user)
			monitor := f.userClient("teacher")
			f.hub.AddMonitor(monitor)

			f.process(robot, newMessage(tt.in, 7, "detail", "left arm"))

			relayed := onlyMessage(t, user)
			if relayed.Type != tt.out || *relayed.ConversationID != 7 {
				t.Fatalf("Expected %v in conversation 7, got %v", tt.out, relayed)
			}
			if got := relayed.Value("detail") == "left arm"; got != tt.keepsValues {
				t.Errorf("Values copied = %v, expected %v", got, tt.keepsValues)
			}
			if tt.out == types.MessageTypeProgramTransferred && relayed.Value("ProgramId") != "12" {
				t.Errorf("Expected ProgramId 12, got %q", relayed.Value("ProgramId"))
			}
			if _, ok := relayed.Values.Get("SourceClientId"); ok {
				t.Error("Listener copy must not carry source values")
			}

			seen := messagesOf(monitor, tt.out)
			if len(seen) != 1 || seen[0].Value("SourceType") != "Robot" || seen[0].Value("SourceName") != "karetao" || seen[0].Value("SourceClientId") != "1" {
				t.Errorf("Unexpected monitor copy %v", seen)
			}
			if log := robot.MessageLog(); len(log) != 1 || log[0].Type != tt.out {
				t.Errorf("Expected the relay in the message log, got %v", log)
			}

			logs := f.robotLogs()
			if len(logs) != 1 || len(logs[0].Lines) != 1 || logs[0].Lines[0].Description != tt.description {
				t.Fatalf("Unexpected robot logs %+v", logs)
			}
			if values := logs[0].Lines[0].Values; len(values) != 1 || values[0].Value != "left arm" {
				t.Errorf("Log line should keep the inbound values, got %+v", values)
			}
		})
	}
}

func TestBroadcast_WithoutConversationSkipsLog(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(&model.Robot{ID: "r1", MachineName: "karetao"})
	robot := f.robotClient("karetao", false)

	f.process(robot, newMessage(types.MessageTypeProgramStarted, 0))

	if len(robot.PendingMessages()) != 0 {
		t.Errorf("Robot should get no reply, got %v", robot.PendingMessages())
	}
	if len(f.robotLogs()) != 0 {
		t.Error("No log should be written without a conversation")
	}
}

func TestRobotDebugMessage_TracksSources(t *testing.T) {
	f := newFixture(t, Config{})
	robot := f.robotClient("karetao", false)
	robot.SetRobotDetails(&types.RobotStatus{LastUpdateTime: testNow.Add(-time.Hour)})

	f.process(robot, newMessage(types.MessageTypeRobotDebugMessage, 0, "sourceID", "block-7"))
	f.process(robot, newMessage(types.MessageTypeRobotDebugMessage, 0, "sourceID", "  "))

	details := robot.RobotDetails()
	if len(details.SourceIDs) != 1 || details.SourceIDs[0] != "block-7" {
		t.Errorf("Unexpected source ids %v", details.SourceIDs)
	}
	if !details.LastUpdateTime.Equal(testNow) {
		t.Errorf("LastUpdateTime should be refreshed, got %v", details.LastUpdateTime)
	}
}

func TestRobotStateUpdate(t *testing.T) {
	tests := []struct {
		name      string
		values    []string
		available bool
		message   string
	}{
		{"waiting", []string{"state", "Waiting"}, true, "Waiting"},
		{"running", []string{"state", "Running"}, false, "Running"},
		{"blank", []string{"state", " "}, false, "Unknown"},
		{"missing", nil, false, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.seed(
				&model.Robot{ID: "r1", MachineName: "karetao"},
				&model.Conversation{ID: "c1", ConversationID: 2},
			)
			robot := f.robotClient("karetao", false)
			user := f.userClient("mia")
			robot.AddListener(user)

			f.process(robot, newMessage(types.MessageTypeRobotStateUpdate, 2, tt.values...))

			status := robot.Status()
			if status.IsAvailable != tt.available || status.Message != tt.message {
				t.Errorf("Unexpected status %+v", status)
			}
			if relayed := onlyMessage(t, user); relayed.Type != types.MessageTypeRobotStateUpdate {
				t.Errorf("Listener should get the update, got %v", relayed.Type)
			}
			logs := f.robotLogs()
			if len(logs) != 1 || logs[0].Lines[0].Description != "State updated to "+tt.message {
				t.Errorf("Unexpected robot logs %+v", logs)
			}
		})
	}
}

func TestMonitoring(t *testing.T) {
	f := newFixture(t, Config{})
	f.robotClient("karetao", true)
	user := f.userClient("teacher")

	f.process(user, newMessage(types.MessageTypeStartMonitoring, 0))

	if monitors := f.hub.GetMonitors(); len(monitors) != 1 {
		t.Fatalf("Expected one monitor, got %d", len(monitors))
	}
	if added := messagesOf(user, types.MessageTypeClientAdded); len(added) != 2 {
		t.Errorf("Monitor should receive the current clients, got %d", len(added))
	}

	f.process(user, newMessage(types.MessageTypeStopMonitoring, 0))

	if len(f.hub.GetMonitors()) != 0 {
		t.Error("Monitor should be removed")
	}
	if f.hub.GetClient(user.ID()) == nil {
		t.Error("Stopping monitoring must keep the client connected")
	}
}

func TestMonitoring_WithoutHub(t *testing.T) {
	f := newFixture(t, Config{})
	conn := connection.New(nil, types.ClientUser, f.processor, connection.Config{}, logging.Discard())
	conn.SetUser(&types.Identity{ID: "u1", Name: "mia"})

	f.process(conn, newMessage(types.MessageTypeStartMonitoring, 0))

	if got := onlyMessage(t, conn).Value("error"); got != "Client not connected to Hub" {
		t.Errorf("Unexpected error %q", got)
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(t, Config{})
	robot := f.robotClient("karetao", true)
	user := f.userClient("mia")
	monitor := f.userClient("teacher")
	f.hub.AddMonitor(monitor)

	f.process(robot, newMessage(types.MessageTypeAlertBroadcast, 0, "id", "x", "message", "Battery low"))

	alerts := robot.Notifications()
	if len(alerts) != 1 {
		t.Fatalf("Expected one alert, got %d", len(alerts))
	}
	if alerts[0].ID != -1 || alerts[0].Severity != "info" || alerts[0].Message != "Battery low" || !alerts[0].WhenAdded.Equal(testNow) {
		t.Errorf("Unexpected alert %+v", alerts[0])
	}
	seen := messagesOf(monitor, types.MessageTypeAlertBroadcast)
	if len(seen) != 1 || seen[0].Value("SourceName") != "karetao" || seen[0].Value("severity") != "info" {
		t.Errorf("Unexpected monitor alert %v", seen)
	}

	f.process(user, newMessage(types.MessageTypeAlertsRequest, 0, "robot", "1"))

	replayed := onlyMessage(t, user)
	if replayed.Type != types.MessageTypeAlertBroadcast || replayed.Value("message") != "Battery low" || replayed.Value("id") != "-1" {
		t.Errorf("Unexpected replay %v", replayed.Values.Map())
	}
	if replayed.Value("SourceType") != "Robot" {
		t.Error("Replayed alerts should name the robot")
	}
}

// numberedTransport stands in for the socket transport; only restarts matter.
type numberedTransport struct {
	restarts int
}

func (n *numberedTransport) ReadMessage() (*types.Message, error) { return nil, errors.New("not read") }
func (n *numberedTransport) WriteMessage(*types.Message, time.Time) error { return nil }
func (n *numberedTransport) Close() error { return nil }
func (n *numberedTransport) RemoteAddress() string { return "socket" }
func (n *numberedTransport) RestartSequence() { n.restarts++ }

func TestAuthenticate_RobotRestartsFrameSequence(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(
		&model.Robot{ID: "r1", MachineName: "karetao", FriendlyName: "Mihi"},
		&model.User{ID: "u1", Name: "mia", Role: model.RoleStudent},
		&model.Session{ID: "rs1", UserID: "r1", Role: model.RoleRobot, IsRobot: true, WhenExpires: testNow.Add(time.Hour)},
		&model.Session{ID: "us1", UserID: "u1", Role: model.RoleStudent, WhenExpires: testNow.Add(time.Hour)},
	)
	f.tokens["robot"] = "rs1"
	f.tokens["user"] = "us1"

	tests := []struct {
		name     string
		token    string
		restarts int
	}{
		{"robot", "robot", 1},
		{"user", "user", 0},
		{"rejected", "forged", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &numberedTransport{}
			conn := connection.New(transport, types.ClientUnknown, f.processor, connection.Config{}, logging.Discard())
			f.hub.AddClient(conn)

			f.process(conn, newMessage(types.MessageTypeAuthenticate, 0, "token", tt.token))
			if transport.restarts != tt.restarts {
				t.Errorf("Expected %d sequence restarts, got %d", tt.restarts, transport.restarts)
			}
		})
	}
}
