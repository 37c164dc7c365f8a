package api

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"roboclass/internal/commands"
	"roboclass/internal/compiler"
	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/types"
)

// ExecutionResult is the body of every command endpoint. Validation errors
// mean nothing was attempted; execution errors mean the command failed part
// way and may be retried.
type ExecutionResult struct {
	Successful       bool                  `json:"successful"`
	ValidationErrors []engine.CommandError `json:"validationErrors,omitempty"`
	ExecutionErrors  []engine.CommandError `json:"executionErrors,omitempty"`
	Output           any                   `json:"output,omitempty"`
}

type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token   string         `json:"token"`
	Role    model.UserRole `json:"role"`
	Expires string         `json:"expires"`
}

type RobotRequest struct {
	MachineName  string  `json:"machineName"`
	FriendlyName string  `json:"friendlyName"`
	Password     *string `json:"password"`
	Type         string  `json:"type"`
}

type UserRequest struct {
	Name     string              `json:"name"`
	Password *string             `json:"password"`
	Role     model.UserRole      `json:"role"`
	Age      *int                `json:"age"`
	Gender   *string             `json:"gender"`
	Settings *model.UserSettings `json:"settings"`
}

type RobotTypeRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

type SnapshotRequest struct {
	Source string             `json:"source"`
	State  string             `json:"state"`
	Values []model.NamedValue `json:"values"`
}

type CompileRequest struct {
	Code string `json:"code"`
}

type ClientSummary struct {
	ID            int64              `json:"id"`
	Type          string             `json:"type"`
	Name          string             `json:"name,omitempty"`
	SubType       string             `json:"subType,omitempty"`
	Status        types.ClientStatus `json:"status"`
	Listeners     int                `json:"listeners"`
	Notifications int                `json:"notifications"`
}

type ClientsResponse struct {
	Clients []ClientSummary `json:"clients"`
	Total   int             `json:"total"`
}

// execute validates, applies and commits command in a fresh session. It
// writes the failure response itself and returns nil when the command did not
// complete.
func (s *Server) execute(ctx context.Context, w http.ResponseWriter, command engine.Command) *engine.Result {
	e, session := s.engines.Initialise()
	defer session.Close()

	errs, err := e.Validate(ctx, command)
	if err != nil {
		s.logger.Error("Validation failed unexpectedly", "command", engine.CommandType(command), "error", err)
		s.sendError(w, "Unable to validate command", http.StatusInternalServerError)
		return nil
	}
	if len(errs) > 0 {
		s.writeJSON(w, http.StatusBadRequest, ExecutionResult{ValidationErrors: errs})
		return nil
	}

	result, err := e.Execute(ctx, command)
	if err != nil {
		s.logger.Error("Execution failed unexpectedly", "command", engine.CommandType(command), "error", err)
		s.sendError(w, "Unable to execute command", http.StatusInternalServerError)
		return nil
	}
	if !result.WasSuccessful() {
		s.writeJSON(w, http.StatusInternalServerError, ExecutionResult{ExecutionErrors: result.ToErrors()})
		return nil
	}

	if err := e.Commit(ctx); err != nil {
		s.logger.Error("Commit failed", "command", engine.CommandType(command), "error", err)
		s.writeJSON(w, http.StatusInternalServerError, ExecutionResult{
			ExecutionErrors: []engine.CommandError{{Number: result.Number, Error: "Unable to save changes"}},
		})
		return nil
	}
	return result
}

// run executes command and writes its output on success.
func (s *Server) run(w http.ResponseWriter, r *http.Request, command engine.Command, created bool) {
	result := s.execute(r.Context(), w, command)
	if result == nil {
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	s.writeJSON(w, code, ExecutionResult{Successful: true, Output: result.Output})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// POST /api/v1/session logs a user in and returns a session token.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.login(w, r, &commands.StartSession{Name: req.Name, Password: req.Password})
}

// POST /api/v1/robots/session logs a robot in and returns a session token.
func (s *Server) startRobotSession(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.login(w, r, &commands.StartRobotSession{Name: req.Name, Password: req.Password})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, command engine.Command) {
	result := s.execute(r.Context(), w, command)
	if result == nil {
		return
	}
	session, ok := engine.OutputAs[*model.Session](result)
	if !ok {
		s.sendError(w, "Session was not created", http.StatusInternalServerError)
		return
	}
	s.respondWithToken(w, session)
}

func (s *Server) respondWithToken(w http.ResponseWriter, session *model.Session) {
	token, err := s.tokens.Issue(session)
	if err != nil {
		s.logger.Error("Unable to issue token", "error", err)
		s.sendError(w, "Unable to issue token", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, ExecutionResult{
		Successful: true,
		Output: LoginResponse{
			Token:   token,
			Role:    session.Role,
			Expires: session.WhenExpires.Format(time.RFC3339),
		},
	})
}

// PUT /api/v1/session extends the caller's session.
func (s *Server) renewSession(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	name, err := s.userName(r.Context(), caller.session)
	if err != nil {
		s.sendError(w, "Unable to find user", http.StatusInternalServerError)
		return
	}
	result := s.execute(r.Context(), w, &commands.RenewSession{UserName: name})
	if result == nil {
		return
	}
	session, ok := engine.OutputAs[*model.Session](result)
	if !ok {
		s.sendError(w, "Session was not renewed", http.StatusInternalServerError)
		return
	}
	s.respondWithToken(w, session)
}

// DELETE /api/v1/session ends the caller's session and forgets its token.
func (s *Server) finishSession(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if s.execute(r.Context(), w, &commands.FinishSession{UserID: caller.session.UserID}) == nil {
		return
	}
	s.tokens.Forget(caller.token)
	s.writeJSON(w, http.StatusOK, ExecutionResult{Successful: true})
}

func (s *Server) userName(ctx context.Context, session *model.Session) (string, error) {
	_, dbSession := s.engines.Initialise()
	defer dbSession.Close()
	user, err := store.Load[model.User](ctx, dbSession, session.UserID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", errors.New("user not found")
	}
	return user.Name, nil
}

// GET /api/v1/clients lists the live connections.
func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients := s.hub.GetAllClients()
	summaries := make([]ClientSummary, 0, len(clients))
	for _, conn := range clients {
		summary := ClientSummary{
			ID:            conn.ID(),
			Type:          strings.ToLower(conn.Type().String()),
			Status:        conn.Status(),
			Listeners:     len(conn.Listeners()),
			Notifications: len(conn.Notifications()),
		}
		if robot := conn.Robot(); robot != nil {
			summary.Name, summary.SubType = robot.DisplayName, robot.SubType
		} else if user := conn.User(); user != nil {
			summary.Name, summary.SubType = user.Name, user.SubType
		}
		summaries = append(summaries, summary)
	}
	slices.SortFunc(summaries, func(a, b ClientSummary) int {
		return cmp.Compare(a.ID, b.ID)
	})
	s.writeJSON(w, http.StatusOK, ClientsResponse{Clients: summaries, Total: len(summaries)})
}

// POST /api/v1/robots
func (s *Server) addRobot(w http.ResponseWriter, r *http.Request) {
	var req RobotRequest
	if !s.decode(w, r, &req) {
		return
	}
	command := &commands.AddRobot{
		MachineName:  req.MachineName,
		FriendlyName: req.FriendlyName,
		Type:         req.Type,
	}
	if req.Password != nil {
		command.Password = *req.Password
	}
	s.run(w, r, command, true)
}

// PUT /api/v1/robots/{name}
func (s *Server) updateRobot(w http.ResponseWriter, r *http.Request) {
	var req RobotRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, &commands.UpdateRobot{
		CurrentMachineName: chi.URLParam(r, "name"),
		MachineName:        req.MachineName,
		FriendlyName:       req.FriendlyName,
		Password:           req.Password,
		Type:               req.Type,
	}, false)
}

// DELETE /api/v1/robots/{name}
func (s *Server) deleteRobot(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, &commands.DeleteRobot{Name: chi.URLParam(r, "name")}, false)
}

// POST /api/v1/robottypes
func (s *Server) addRobotType(w http.ResponseWriter, r *http.Request) {
	var req RobotTypeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, &commands.AddRobotType{Name: req.Name, IsDefault: req.IsDefault}, true)
}

// POST /api/v1/users
func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !s.decode(w, r, &req) {
		return
	}
	command := &commands.AddUser{
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
		Age:      req.Age,
		Settings: req.Settings,
	}
	if req.Gender != nil {
		command.Gender = *req.Gender
	}
	s.run(w, r, command, true)
}

// PUT /api/v1/users/{name}
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, &commands.UpdateUser{
		CurrentName: chi.URLParam(r, "name"),
		Name:        req.Name,
		Password:    req.Password,
		Role:        req.Role,
		Settings:    req.Settings,
		Age:         req.Age,
		Gender:      req.Gender,
	}, false)
}

// DELETE /api/v1/users/{name}
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	command := &commands.DeleteUser{}
	command.Name = chi.URLParam(r, "name")
	s.run(w, r, command, false)
}

// DELETE /api/v1/students/{name} only matches students.
func (s *Server) deleteStudent(w http.ResponseWriter, r *http.Request) {
	command := &commands.DeleteStudent{}
	command.Name = chi.URLParam(r, "name")
	s.run(w, r, command, false)
}

// POST /api/v1/snapshots saves editor state for the caller.
func (s *Server) storeSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	name, err := s.userName(r.Context(), callerFrom(r.Context()).session)
	if err != nil {
		s.sendError(w, "Unable to find user", http.StatusInternalServerError)
		return
	}
	s.run(w, r, &commands.StoreSnapshot{
		UserName: name,
		Source:   req.Source,
		State:    req.State,
		Values:   req.Values,
	}, true)
}

// POST /api/v1/code/compile parses a program. Parse errors are part of the
// output, not a failure.
func (s *Server) compileCode(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := s.execute(r.Context(), w, &commands.CompileCode{Code: req.Code})
	if result == nil {
		return
	}
	parsed, _ := engine.OutputAs[*compiler.Result](result)
	s.writeJSON(w, http.StatusOK, ExecutionResult{Successful: true, Output: parsed})
}
