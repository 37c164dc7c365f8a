package commands

import (
	"context"
	"fmt"

	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/types"
)

// AddRobot registers a new robot. Type is optional: without it the default
// robot type is used when one exists.
type AddRobot struct {
	engine.CommandBase
	MachineName    string         `json:"machineName"`
	FriendlyName   string         `json:"friendlyName"`
	Password       string         `json:"-"`
	HashedPassword model.Password `json:"hashedPassword"`
	Type           string         `json:"type,omitempty"`

	robotType *model.RobotType
	added     *model.Robot
}

func (c *AddRobot) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.MachineName) {
		errs = append(errs, c.Errorf("Machine name is required for a robot"))
	} else if err := types.ValidateMachineName(c.MachineName); err != nil {
		errs = append(errs, c.Errorf("Machine name %s is invalid", c.MachineName))
	}
	if isBlank(c.FriendlyName) {
		c.FriendlyName = c.MachineName
	}

	if len(errs) == 0 {
		existing, err := findRobot(ctx, s, c.MachineName)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			errs = append(errs, c.Errorf("Robot with name %s already exists", c.MachineName))
		}
		if err := c.resolveType(ctx, s, &errs); err != nil {
			return nil, err
		}
	}

	if c.Password != "" {
		c.HashedPassword = model.NewPassword(c.Password)
		c.Password = ""
	}
	return errs, nil
}

func (c *AddRobot) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	robot := &model.Robot{
		MachineName:   c.MachineName,
		FriendlyName:  c.FriendlyName,
		Password:      c.HashedPassword,
		IsInitialised: !c.HashedPassword.IsEmpty(),
		WhenAdded:     c.WhenExecuted,
	}
	if c.robotType != nil {
		robot.RobotTypeID = c.robotType.ID
	}
	if err := s.Store(ctx, robot); err != nil {
		return nil, err
	}
	c.added = robot
	return c.Success(robot), nil
}

func (c *AddRobot) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if err := c.resolveType(ctx, s, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

func (c *AddRobot) CheckCanRollback(context.Context, *store.Session) (bool, error) {
	return true, nil
}

func (c *AddRobot) Rollback(ctx context.Context, s *store.Session) (*engine.Result, error) {
	robot := c.added
	if robot == nil {
		var err error
		if robot, err = findRobot(ctx, s, c.MachineName); err != nil {
			return nil, err
		}
	}
	if robot == nil {
		return c.Failure(fmt.Sprintf("Robot %s does not exist", c.MachineName)), nil
	}
	s.Delete(robot)
	return c.Success(nil), nil
}

func (c *AddRobot) resolveType(ctx context.Context, s *store.Session, errs *[]engine.CommandError) error {
	var err error
	if isBlank(c.Type) {
		c.robotType, err = store.First[model.RobotType](ctx, s, func(t *model.RobotType) bool { return t.IsDefault })
		return err
	}
	if c.robotType, err = findRobotType(ctx, s, c.Type); err != nil {
		return err
	}
	if c.robotType == nil {
		*errs = append(*errs, c.Errorf("Unknown robot type %s", c.Type))
	}
	return nil
}

// DeleteRobot removes a robot by machine name.
type DeleteRobot struct {
	engine.CommandBase
	Name string `json:"name"`

	robot *model.Robot
}

func (c *DeleteRobot) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	return c.Restore(ctx, s)
}

func (c *DeleteRobot) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.Name) {
		return append(errs, c.Errorf("Machine name is required")), nil
	}
	var err error
	c.robot, err = retrieveRobot(ctx, s, &c.CommandBase, c.Name, &errs)
	return errs, err
}

func (c *DeleteRobot) Apply(_ context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.robot != nil); err != nil {
		return nil, err
	}
	s.Delete(c.robot)
	return c.Success(nil), nil
}

// UpdateRobot changes the supplied fields of an existing robot. Setting a
// password marks the robot as initialised.
type UpdateRobot struct {
	engine.CommandBase
	CurrentMachineName string          `json:"currentMachineName"`
	MachineName        string          `json:"machineName,omitempty"`
	FriendlyName       string          `json:"friendlyName,omitempty"`
	Password           *string         `json:"-"`
	HashedPassword     *model.Password `json:"hashedPassword,omitempty"`
	Type               string          `json:"type,omitempty"`

	robot     *model.Robot
	robotType *model.RobotType
}

func (c *UpdateRobot) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.CurrentMachineName) {
		errs = append(errs, c.Errorf("Machine name is required"))
	}

	if len(errs) == 0 {
		var err error
		if c.robot, err = retrieveRobot(ctx, s, &c.CommandBase, c.CurrentMachineName, &errs); err != nil {
			return nil, err
		}
		if !isBlank(c.MachineName) && c.MachineName != c.CurrentMachineName {
			if err := types.ValidateMachineName(c.MachineName); err != nil {
				errs = append(errs, c.Errorf("Machine name %s is invalid", c.MachineName))
			}
			clash, err := findRobot(ctx, s, c.MachineName)
			if err != nil {
				return nil, err
			}
			if clash != nil {
				errs = append(errs, c.Errorf("Robot with name %s already exists", c.MachineName))
			}
		}
		if !isBlank(c.Type) {
			if c.robotType, err = findRobotType(ctx, s, c.Type); err != nil {
				return nil, err
			}
			if c.robotType == nil {
				errs = append(errs, c.Errorf("Unknown robot type %s", c.Type))
			}
		}
	}

	if c.Password != nil {
		hashed := model.NewPassword(*c.Password)
		c.HashedPassword = &hashed
		c.Password = nil
	}
	return errs, nil
}

func (c *UpdateRobot) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	var err error
	if c.robot, err = retrieveRobot(ctx, s, &c.CommandBase, c.CurrentMachineName, &errs); err != nil {
		return nil, err
	}
	if !isBlank(c.Type) {
		if c.robotType, err = findRobotType(ctx, s, c.Type); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func (c *UpdateRobot) Apply(_ context.Context, _ *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.robot != nil); err != nil {
		return nil, err
	}

	if !isBlank(c.MachineName) {
		c.robot.MachineName = c.MachineName
	}
	if !isBlank(c.FriendlyName) {
		c.robot.FriendlyName = c.FriendlyName
	}
	if c.HashedPassword != nil {
		c.robot.Password = *c.HashedPassword
		c.robot.IsInitialised = true
	}
	if c.robotType != nil {
		c.robot.RobotTypeID = c.robotType.ID
	}
	return c.Success(c.robot), nil
}

// AddRobotType registers a robot type. The first type added becomes the
// default when IsDefault is not requested explicitly for another.
type AddRobotType struct {
	engine.CommandBase
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`

	added *model.RobotType
}

func (c *AddRobotType) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.Name) {
		return append(errs, c.Errorf("Name is required for a robot type")), nil
	}
	existing, err := findRobotType(ctx, s, c.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		errs = append(errs, c.Errorf("Robot type with name %s already exists", c.Name))
	}
	return errs, nil
}

func (c *AddRobotType) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	existing, err := store.Query[model.RobotType](ctx, s, nil)
	if err != nil {
		return nil, err
	}

	robotType := &model.RobotType{
		Name:      c.Name,
		IsDefault: c.IsDefault || len(existing) == 0,
		WhenAdded: c.WhenExecuted,
	}
	if robotType.IsDefault {
		for _, other := range existing {
			other.IsDefault = false
		}
	}
	if err := s.Store(ctx, robotType); err != nil {
		return nil, err
	}
	c.added = robotType
	return c.Success(robotType), nil
}

func (c *AddRobotType) CheckCanRollback(context.Context, *store.Session) (bool, error) {
	return true, nil
}

func (c *AddRobotType) Rollback(ctx context.Context, s *store.Session) (*engine.Result, error) {
	robotType := c.added
	if robotType == nil {
		var err error
		if robotType, err = findRobotType(ctx, s, c.Name); err != nil {
			return nil, err
		}
	}
	if robotType == nil {
		return c.Failure(fmt.Sprintf("Robot type %s does not exist", c.Name)), nil
	}
	s.Delete(robotType)
	return c.Success(nil), nil
}
