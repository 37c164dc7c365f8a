package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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
	"roboclass/pkg/types"
)

var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(context.Context) error { return m.err }

type fixture struct {
	t      *testing.T
	db     *store.Database
	clock  *clock.FakeClock
	hub    *hub.Hub
	health *mockHealthChecker
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewDatabase(store.NewMemoryBackend())
	clk := clock.Fake(testNow)
	tokens, err := auth.NewTokenService(auth.Config{Secret: "classroom", Issuer: "roboclass"}, clk)
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	h := hub.New(hub.DefaultConfig(), clk, logging.Discard())
	health := &mockHealthChecker{}

	f := &fixture{t: t, db: db, clock: clk, hub: h, health: health}
	f.server = NewServer(Dependencies{
		Engines:  engine.NewFactory(db, logging.Discard(), clk, nil),
		Tokens:   tokens,
		Hub:      h,
		Database: health,
		WebSocket: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
		Clock:  clk,
		Logger: logging.Discard(),
	})

	f.seed(
		&model.User{ID: "t1", Name: "whaea", Role: model.RoleTeacher, Password: model.NewPassword("secret")},
		&model.User{ID: "s1", Name: "mia", Role: model.RoleStudent, Password: model.NewPassword("secret")},
		&model.Robot{ID: "r1", MachineName: "karetao", FriendlyName: "Mihi", Password: model.NewPassword("beep")},
	)
	return f
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

func (f *fixture) request(method, path, token, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(name, password string) string {
	f.t.Helper()
	w := f.request(http.MethodPost, "/api/v1/session", "", `{"name":"`+name+`","password":"`+password+`"}`)
	if w.Code != http.StatusOK {
		f.t.Fatalf("Login failed: %d %s", w.Code, w.Body.String())
	}
	var body struct {
		Output LoginResponse `json:"output"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		f.t.Fatalf("Invalid login response: %v", err)
	}
	return body.Output.Token
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) ExecutionResult {
	t.Helper()
	var result ExecutionResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid response %q: %v", w.Body.String(), err)
	}
	return result
}

func TestServer_HealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	f.health.err = errors.New("database locked")
	w = f.request(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	var health HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &health)
	if health.Status != "unhealthy" || !strings.Contains(health.Database, "database locked") {
		t.Errorf("Unexpected health %+v", health)
	}
}

func TestServer_Login(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		code     int
		expected string
	}{
		{"user", "/api/v1/session", `{"name":"mia","password":"secret"}`, http.StatusOK, ""},
		{"wrong password", "/api/v1/session", `{"name":"mia","password":"nope"}`, http.StatusBadRequest, "Unknown or invalid user"},
		{"unknown user", "/api/v1/session", `{"name":"nobody","password":"secret"}`, http.StatusBadRequest, "Unknown or invalid user"},
		{"robot", "/api/v1/robots/session", `{"name":"karetao","password":"beep"}`, http.StatusOK, ""},
		{"wrong robot password", "/api/v1/robots/session", `{"name":"karetao","password":"boop"}`, http.StatusBadRequest, "Unknown or invalid robot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.request(http.MethodPost, tt.path, "", tt.body)
			if w.Code != tt.code {
				t.Fatalf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if tt.expected == "" {
				if !strings.Contains(w.Body.String(), `"token"`) {
					t.Errorf("Expected a token, got %s", w.Body.String())
				}
				return
			}
			result := decodeResult(t, w)
			if len(result.ValidationErrors) != 1 || result.ValidationErrors[0].Error != tt.expected {
				t.Errorf("Expected %q, got %+v", tt.expected, result.ValidationErrors)
			}
		})
	}
}

func TestServer_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	w := f.request(http.MethodPost, "/api/v1/session", "", `{"name":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestServer_Authorization(t *testing.T) {
	f := newFixture(t)
	student := f.login("mia", "secret")
	teacher := f.login("whaea", "secret")

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"forged token", "not-a-token", http.StatusUnauthorized},
		{"student", student, http.StatusForbidden},
		{"teacher", teacher, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.request(http.MethodGet, "/api/v1/clients", tt.token, "")
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestServer_RobotAdministration(t *testing.T) {
	f := newFixture(t)
	teacher := f.login("whaea", "secret")

	w := f.request(http.MethodPost, "/api/v1/robots", teacher, `{"machineName":"bob","password":"pw"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodPost, "/api/v1/robots", teacher, `{"machineName":"bob"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for a duplicate, got %d", w.Code)
	}
	result := decodeResult(t, w)
	if len(result.ValidationErrors) != 1 || result.ValidationErrors[0].Error != "Robot with name bob already exists" {
		t.Errorf("Unexpected validation errors %+v", result.ValidationErrors)
	}

	w = f.request(http.MethodPut, "/api/v1/robots/bob", teacher, `{"friendlyName":"Bobby"}`)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on update, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodDelete, "/api/v1/robots/bob", teacher, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d: %s", w.Code, w.Body.String())
	}
	w = f.request(http.MethodDelete, "/api/v1/robots/bob", teacher, "")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Robot bob does not exist") {
		t.Errorf("Expected missing robot error, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_UserAdministration(t *testing.T) {
	f := newFixture(t)
	teacher := f.login("whaea", "secret")

	w := f.request(http.MethodPost, "/api/v1/users", teacher, `{"name":"ana","password":"pw","role":"Student"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if token := f.login("ana", "pw"); token == "" {
		t.Error("New user should be able to log in")
	}

	w = f.request(http.MethodPost, "/api/v1/users", teacher, `{"name":"","role":"Teacher"}`)
	result := decodeResult(t, w)
	if w.Code != http.StatusBadRequest || len(result.ValidationErrors) != 2 {
		t.Errorf("Expected two validation errors, got %d %+v", w.Code, result.ValidationErrors)
	}

	w = f.request(http.MethodDelete, "/api/v1/users/ana", teacher, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.login("mia", "secret")

	f.clock.Advance(time.Hour)
	w := f.request(http.MethodPut, "/api/v1/session", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on renew, got %d: %s", w.Code, w.Body.String())
	}
	var renewed struct {
		Output LoginResponse `json:"output"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &renewed)
	if renewed.Output.Expires != testNow.Add(time.Hour+model.SessionLifetime).Format(time.RFC3339) {
		t.Errorf("Unexpected expiry %s", renewed.Output.Expires)
	}

	w = f.request(http.MethodDelete, "/api/v1/session", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on finish, got %d: %s", w.Code, w.Body.String())
	}
	w = f.request(http.MethodPost, "/api/v1/code/compile", token, `{"code":"say('hi')"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Finished session should be rejected, got %d", w.Code)
	}
}

func TestServer_CompileCode(t *testing.T) {
	f := newFixture(t)
	token := f.login("mia", "secret")

	w := f.request(http.MethodPost, "/api/v1/code/compile", token, `{"code":""}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "No code to compile") {
		t.Errorf("Expected missing code error, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodPost, "/api/v1/code/compile", token, `{"code":"say('hi')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"nodes"`) {
		t.Errorf("Expected parsed nodes, got %s", w.Body.String())
	}
}

func TestServer_ListClients(t *testing.T) {
	f := newFixture(t)
	teacher := f.login("whaea", "secret")

	robot := connection.New(nil, types.ClientRobot, nil, connection.Config{}, logging.Discard())
	robot.SetRobot(&types.Identity{ID: "r1", Name: "karetao", DisplayName: "Mihi", SubType: "Nao"})
	robot.SetStatus(types.ClientStatus{IsAvailable: true, Message: "Waiting"})
	f.hub.AddClient(robot)
	f.hub.AddClient(connection.New(nil, types.ClientUser, nil, connection.Config{}, logging.Discard()))

	w := f.request(http.MethodGet, "/api/v1/clients", teacher, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body ClientsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if body.Total != 2 || body.Clients[0].ID != 1 || body.Clients[0].Type != "robot" || body.Clients[0].Name != "Mihi" {
		t.Errorf("Unexpected clients %+v", body)
	}
	if !body.Clients[0].Status.IsAvailable || body.Clients[1].Type != "user" {
		t.Errorf("Unexpected client details %+v", body.Clients)
	}
}

func TestServer_WebSocketRoute(t *testing.T) {
	f := newFixture(t)
	w := f.request(http.MethodGet, "/connections/robot", "", "")
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected the WebSocket handler to be mounted, got %d", w.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.request(http.MethodOptions, "/api/v1/robots", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers")
	}
}

func TestServer_RobotTypes(t *testing.T) {
	f := newFixture(t)
	teacher := f.login("whaea", "secret")
	student := f.login("mia", "secret")

	if w := f.request(http.MethodPost, "/api/v1/robottypes", student, `{"name":"nao"}`); w.Code != http.StatusForbidden {
		t.Errorf("Students should not add robot types, got %d", w.Code)
	}

	w := f.request(http.MethodPost, "/api/v1/robots", teacher, `{"machineName":"bob","type":"nao"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Unknown robot type nao") {
		t.Fatalf("Expected unknown type before registration, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodPost, "/api/v1/robottypes", teacher, `{"name":"nao"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for robot type, got %d: %s", w.Code, w.Body.String())
	}
	w = f.request(http.MethodPost, "/api/v1/robottypes", teacher, `{"name":"nao"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Robot type with name nao already exists") {
		t.Errorf("Expected duplicate robot type error, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodPost, "/api/v1/robots", teacher, `{"machineName":"bob","type":"nao"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for typed robot, got %d: %s", w.Code, w.Body.String())
	}

	ctx := context.Background()
	s := f.db.StartSession()
	defer s.Close()
	robotType, err := store.First[model.RobotType](ctx, s, nil)
	if err != nil || robotType == nil || !robotType.IsDefault {
		t.Fatalf("Expected nao to be the default type, got %+v (%v)", robotType, err)
	}
	robot, err := store.First[model.Robot](ctx, s, func(r *model.Robot) bool { return r.MachineName == "bob" })
	if err != nil || robot == nil || robot.RobotTypeID != robotType.ID {
		t.Errorf("Robot should reference type %s, got %+v (%v)", robotType.ID, robot, err)
	}
}

func TestServer_Snapshots(t *testing.T) {
	f := newFixture(t)
	student := f.login("mia", "secret")

	w := f.request(http.MethodPost, "/api/v1/snapshots", student, `{"source":"Blockly"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "State is required") {
		t.Errorf("Expected missing state error, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodPost, "/api/v1/snapshots", student,
		`{"source":"Blockly","state":"<xml/>","values":[{"name":"robot","value":"karetao"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	s := f.db.StartSession()
	defer s.Close()
	snapshots, err := store.Query[model.Snapshot](context.Background(), s, nil)
	if err != nil || len(snapshots) != 1 {
		t.Fatalf("Expected one snapshot, got %d (%v)", len(snapshots), err)
	}
	if got := snapshots[0]; got.UserID != "s1" || got.State != "<xml/>" || len(got.Values) != 1 {
		t.Errorf("Snapshot should belong to the caller, got %+v", got)
	}

	if w := f.request(http.MethodPost, "/api/v1/snapshots", "", `{"state":"<xml/>"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("Snapshots need a session, got %d", w.Code)
	}
}

func TestServer_DeleteStudent(t *testing.T) {
	f := newFixture(t)
	teacher := f.login("whaea", "secret")

	w := f.request(http.MethodDelete, "/api/v1/students/whaea", teacher, "")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Student whaea does not exist") {
		t.Errorf("Teachers are not students, got %d: %s", w.Code, w.Body.String())
	}

	w = f.request(http.MethodDelete, "/api/v1/students/mia", teacher, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = f.request(http.MethodPost, "/api/v1/session", "", `{"name":"mia","password":"secret"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Deleted student should not log in, got %d", w.Code)
	}
}

func TestServer_RobotTokenCannotRenewUserSession(t *testing.T) {
	f := newFixture(t)
	w := f.request(http.MethodPost, "/api/v1/robots/session", "", `{"name":"karetao","password":"beep"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Robot login failed: %d %s", w.Code, w.Body.String())
	}
	var body struct {
		Output LoginResponse `json:"output"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid login response: %v", err)
	}

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		if w := f.request(method, "/api/v1/session", body.Output.Token, ""); w.Code != http.StatusForbidden {
			t.Errorf("%s /session with a robot token: expected 403, got %d: %s", method, w.Code, w.Body.String())
		}
	}
}
