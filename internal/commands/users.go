package commands

import (
	"context"
	"fmt"
	"strings"

	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/types"
)

// AddUser registers a user with a hashed password.
type AddUser struct {
	engine.CommandBase
	Name           string              `json:"name"`
	Password       *string             `json:"-"`
	HashedPassword model.Password      `json:"hashedPassword"`
	Role           model.UserRole      `json:"role"`
	Age            *int                `json:"age,omitempty"`
	Gender         string              `json:"gender,omitempty"`
	Settings       *model.UserSettings `json:"settings,omitempty"`

	added *model.User
}

func (c *AddUser) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	roleName := string(c.Role)
	if model.ParseUserRole(roleName) == model.RoleUnknown {
		roleName = string(model.RoleUser)
		errs = append(errs, c.Errorf("Role is unknown or missing"))
	}
	if isBlank(c.Name) {
		errs = append(errs, c.Errorf("%s name is required", roleName))
	} else if err := types.ValidateName(strings.TrimSpace(c.Name)); err != nil {
		errs = append(errs, c.Errorf("%s name is invalid", roleName))
	}
	if c.Password == nil || *c.Password == "" {
		errs = append(errs, c.Errorf("Password is required"))
	} else {
		c.HashedPassword = model.NewPassword(*c.Password)
		c.Password = nil
	}

	settingErrs, err := validateSettings(ctx, s, &c.CommandBase, c.Settings)
	if err != nil {
		return nil, err
	}
	errs = append(errs, settingErrs...)

	if len(errs) == 0 {
		existing, err := findUser(ctx, s, strings.TrimSpace(c.Name))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			errs = append(errs, c.Errorf("%s with name %s already exists", roleName, c.Name))
		}
	}
	return errs, nil
}

func (c *AddUser) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	user := &model.User{
		Name:      strings.TrimSpace(c.Name),
		Role:      c.Role,
		Password:  c.HashedPassword,
		WhenAdded: c.WhenExecuted,
	}
	if c.Settings != nil {
		user.Settings = *c.Settings
	}
	if c.Role == model.RoleStudent {
		user.StudentDetails = &model.StudentDetails{Age: c.Age, Gender: c.Gender}
	}
	if err := s.Store(ctx, user); err != nil {
		return nil, err
	}
	c.added = user
	return c.Success(user), nil
}

func (c *AddUser) CheckCanRollback(context.Context, *store.Session) (bool, error) {
	return true, nil
}

func (c *AddUser) Rollback(ctx context.Context, s *store.Session) (*engine.Result, error) {
	user := c.added
	if user == nil {
		var err error
		if user, err = findUser(ctx, s, strings.TrimSpace(c.Name)); err != nil {
			return nil, err
		}
	}
	if user == nil {
		return c.Failure(fmt.Sprintf("User %s does not exist", c.Name)), nil
	}
	s.Delete(user)
	return c.Success(nil), nil
}

// validateSettings checks that a robot type and robot named in settings exist
// and normalises the robot reference to its machine name.
func validateSettings(ctx context.Context, s *store.Session, base *engine.CommandBase, settings *model.UserSettings) ([]engine.CommandError, error) {
	if settings == nil {
		return nil, nil
	}

	var errs []engine.CommandError
	if settings.RobotType != "" {
		robotType, err := findRobotType(ctx, s, settings.RobotType)
		if err != nil {
			return nil, err
		}
		if robotType == nil {
			errs = append(errs, base.Errorf("Unknown robot type %s", settings.RobotType))
		}
	}

	if settings.RobotID != "" {
		robot, err := store.First[model.Robot](ctx, s, func(r *model.Robot) bool {
			return r.MachineName == settings.RobotID || r.FriendlyName == settings.RobotID
		})
		if err != nil {
			return nil, err
		}
		if robot == nil {
			errs = append(errs, base.Errorf("Unknown robot %s", settings.RobotID))
		} else {
			settings.RobotID = robot.MachineName
		}
	} else if settings.AllocationMode > 0 {
		errs = append(errs, base.Errorf("Robot is required for allocation mode %d", settings.AllocationMode))
	}
	return errs, nil
}

// deleteUser is shared by DeleteUser and DeleteStudent.
type deleteUser struct {
	engine.CommandBase
	Name string `json:"name"`

	user *model.User
}

func (c *deleteUser) restore(ctx context.Context, s *store.Session, role model.UserRole) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.Name) {
		return append(errs, c.Errorf("%s name is required", role)), nil
	}
	var err error
	c.user, err = retrieveUser(ctx, s, &c.CommandBase, c.Name, role, &errs)
	return errs, err
}

func (c *deleteUser) Apply(_ context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.user != nil); err != nil {
		return nil, err
	}
	s.Delete(c.user)
	return c.Success(nil), nil
}

// DeleteUser removes any human user by name.
type DeleteUser struct {
	deleteUser
}

func (c *DeleteUser) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	return c.restore(ctx, s, model.RoleUser)
}

func (c *DeleteUser) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	return c.restore(ctx, s, model.RoleUser)
}

// DeleteStudent removes a student by name. Teachers are not matched.
type DeleteStudent struct {
	deleteUser
}

func (c *DeleteStudent) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	return c.restore(ctx, s, model.RoleStudent)
}

func (c *DeleteStudent) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	return c.restore(ctx, s, model.RoleStudent)
}

// UpdateUser changes the supplied fields of an existing user.
type UpdateUser struct {
	engine.CommandBase
	CurrentName    string              `json:"currentName"`
	Name           string              `json:"name,omitempty"`
	Password       *string             `json:"-"`
	HashedPassword *model.Password     `json:"hashedPassword,omitempty"`
	Role           model.UserRole      `json:"role,omitempty"`
	Settings       *model.UserSettings `json:"settings,omitempty"`
	Age            *int                `json:"age,omitempty"`
	Gender         *string             `json:"gender,omitempty"`

	user *model.User
}

func (c *UpdateUser) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.CurrentName) {
		errs = append(errs, c.Errorf("Current name is required"))
	}

	if len(errs) == 0 {
		var err error
		if c.user, err = retrieveUser(ctx, s, &c.CommandBase, c.CurrentName, c.targetRole(), &errs); err != nil {
			return nil, err
		}
		if name := strings.TrimSpace(c.Name); name != "" && name != c.CurrentName {
			clash, err := findUser(ctx, s, name)
			if err != nil {
				return nil, err
			}
			if clash != nil {
				errs = append(errs, c.Errorf("User with name %s already exists", name))
			}
		}
		settingErrs, err := validateSettings(ctx, s, &c.CommandBase, c.Settings)
		if err != nil {
			return nil, err
		}
		errs = append(errs, settingErrs...)
	}

	if c.Password != nil {
		hashed := model.NewPassword(*c.Password)
		c.HashedPassword = &hashed
		c.Password = nil
	}
	return errs, nil
}

func (c *UpdateUser) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	var err error
	c.user, err = retrieveUser(ctx, s, &c.CommandBase, c.CurrentName, c.targetRole(), &errs)
	return errs, err
}

func (c *UpdateUser) Apply(_ context.Context, _ *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.user != nil); err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(c.Name); name != "" {
		c.user.Name = name
	}
	if c.HashedPassword != nil {
		c.user.Password = *c.HashedPassword
	}
	if c.Settings != nil {
		c.user.Settings = *c.Settings
	}
	if c.user.Role == model.RoleStudent {
		if c.user.StudentDetails == nil {
			c.user.StudentDetails = &model.StudentDetails{}
		}
		if c.Age != nil {
			c.user.StudentDetails.Age = c.Age
		}
		if c.Gender != nil {
			c.user.StudentDetails.Gender = *c.Gender
		}
	}
	return c.Success(c.user), nil
}

// targetRole narrows the lookup when the caller names a role.
func (c *UpdateUser) targetRole() model.UserRole {
	if role := model.ParseUserRole(string(c.Role)); role != model.RoleUnknown {
		return role
	}
	return model.RoleUser
}

// NewDeleteUser returns a DeleteUser for name.
func NewDeleteUser(name string) *DeleteUser {
	return &DeleteUser{deleteUser{Name: name}}
}

// NewDeleteStudent returns a DeleteStudent for name.
func NewDeleteStudent(name string) *DeleteStudent {
	return &DeleteStudent{deleteUser{Name: name}}
}
