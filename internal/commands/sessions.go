package commands

import (
	"context"
	"time"

	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/internal/store"
)

// finishTolerance is how far past expiry a session is still closed by FinishSession.
const finishTolerance = time.Minute

// StartSession logs a user in. An unknown name and a wrong password produce
// the same error.
type StartSession struct {
	engine.CommandBase
	Name     string         `json:"-"`
	Password string         `json:"-"`
	Role     model.UserRole `json:"role"`
	UserID   string         `json:"userId,omitempty"`
}

func (c *StartSession) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.Name) {
		errs = append(errs, c.Errorf("User name is required"))
	}
	if isBlank(c.Password) {
		errs = append(errs, c.Errorf("Password is required"))
	}
	if len(errs) > 0 {
		return errs, nil
	}

	user, err := findUser(ctx, s, c.Name)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Password.Verify(c.Password) {
		return append(errs, c.Errorf("Unknown or invalid user")), nil
	}
	c.UserID = user.ID
	c.Role = user.Role
	return nil, nil
}

func (c *StartSession) Restore(context.Context, *store.Session) ([]engine.CommandError, error) {
	if c.UserID == "" {
		return []engine.CommandError{c.Errorf("Unable to retrieve user")}, nil
	}
	return nil, nil
}

func (c *StartSession) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.UserID != ""); err != nil {
		return nil, err
	}
	session, err := openSession(ctx, s, c.UserID, c.Role, false, c.WhenExecuted)
	if err != nil {
		return nil, err
	}
	return c.Success(session), nil
}

// StartRobotSession logs a robot in with its machine name and password.
type StartRobotSession struct {
	engine.CommandBase
	Name     string `json:"-"`
	Password string `json:"-"`
	RobotID  string `json:"robotId,omitempty"`
}

func (c *StartRobotSession) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.Name) {
		errs = append(errs, c.Errorf("Robot name is required"))
	}
	if isBlank(c.Password) {
		errs = append(errs, c.Errorf("Password is required"))
	}
	if len(errs) > 0 {
		return errs, nil
	}

	robot, err := findRobot(ctx, s, c.Name)
	if err != nil {
		return nil, err
	}
	if robot == nil || !robot.Password.Verify(c.Password) {
		return append(errs, c.Errorf("Unknown or invalid robot")), nil
	}
	c.RobotID = robot.ID
	return nil, nil
}

func (c *StartRobotSession) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.RobotID != ""); err != nil {
		return nil, err
	}
	session, err := openSession(ctx, s, c.RobotID, model.RoleRobot, true, c.WhenExecuted)
	if err != nil {
		return nil, err
	}
	return c.Success(session), nil
}

// openSession extends the owner's active session or stores a new one.
func openSession(ctx context.Context, s *store.Session, ownerID string, role model.UserRole, isRobot bool, now time.Time) (*model.Session, error) {
	existing, err := activeSession(ctx, s, ownerID, func(us *model.Session) bool { return us.IsActive(now) })
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.WhenExpires = now.Add(model.SessionLifetime)
		return existing, nil
	}

	session := &model.Session{
		UserID:      ownerID,
		Role:        role,
		IsRobot:     isRobot,
		WhenAdded:   now,
		WhenExpires: now.Add(model.SessionLifetime),
	}
	if err := s.Store(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// RenewSession extends the active session of a user.
type RenewSession struct {
	engine.CommandBase
	UserName string `json:"userName"`

	session *model.Session
}

func (c *RenewSession) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.UserName) {
		return append(errs, c.Errorf("User name is required")), nil
	}
	user, err := findUser(ctx, s, c.UserName)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return append(errs, c.Errorf("Unknown or invalid user")), nil
	}
	c.session, err = c.findActive(ctx, s, user.ID)
	if err != nil {
		return nil, err
	}
	if c.session == nil {
		errs = append(errs, c.Errorf("User does not have a current session"))
	}
	return errs, nil
}

func (c *RenewSession) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	user, err := findUser(ctx, s, c.UserName)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return append(errs, c.Errorf("Unable to retrieve user")), nil
	}
	if c.session, err = c.findActive(ctx, s, user.ID); err != nil {
		return nil, err
	}
	if c.session == nil {
		errs = append(errs, c.Errorf("Unable to retrieve session"))
	}
	return errs, nil
}

func (c *RenewSession) Apply(context.Context, *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.session != nil); err != nil {
		return nil, err
	}
	c.session.WhenExpires = c.WhenExecuted.Add(model.SessionLifetime)
	return c.Success(c.session), nil
}

func (c *RenewSession) findActive(ctx context.Context, s *store.Session, userID string) (*model.Session, error) {
	return activeSession(ctx, s, userID, func(us *model.Session) bool { return us.IsActive(c.WhenExecuted) })
}

// FinishSession closes a user's session by moving its expiry into the recent
// past. A session that expired more than a minute ago is treated as already
// finished: Apply succeeds with no output.
type FinishSession struct {
	engine.CommandBase
	UserID string `json:"userId"`
}

func (c *FinishSession) Validate(context.Context, *store.Session) ([]engine.CommandError, error) {
	if isBlank(c.UserID) {
		return []engine.CommandError{c.Errorf("User ID is required")}, nil
	}
	return nil, nil
}

func (c *FinishSession) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	cutoff := c.WhenExecuted.Add(-finishTolerance)
	session, err := activeSession(ctx, s, c.UserID, func(us *model.Session) bool {
		return us.WhenExpires.After(cutoff)
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return c.Success(nil), nil
	}
	session.WhenExpires = cutoff
	return c.Success(session), nil
}
