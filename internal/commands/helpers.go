// Package commands holds the state-changing operations run by the execution
// engine. Each command validates against read-only queries and applies its
// change to the session it is given.
package commands

import (
	"context"
	"strings"

	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/internal/store"
)

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func findRobot(ctx context.Context, s *store.Session, machineName string) (*model.Robot, error) {
	return store.First[model.Robot](ctx, s, func(r *model.Robot) bool {
		return r.MachineName == machineName
	})
}

func findUser(ctx context.Context, s *store.Session, name string) (*model.User, error) {
	return store.First[model.User](ctx, s, func(u *model.User) bool {
		return u.Name == name
	})
}

func findRobotType(ctx context.Context, s *store.Session, name string) (*model.RobotType, error) {
	return store.First[model.RobotType](ctx, s, func(t *model.RobotType) bool {
		return t.Name == name
	})
}

// retrieveRobot loads the robot called machineName, appending
// "Robot <name> does not exist" to errs when it is missing.
func retrieveRobot(ctx context.Context, s *store.Session, base *engine.CommandBase, machineName string, errs *[]engine.CommandError) (*model.Robot, error) {
	robot, err := findRobot(ctx, s, machineName)
	if err != nil {
		return nil, err
	}
	if robot == nil {
		*errs = append(*errs, base.Errorf("Robot %s does not exist", machineName))
	}
	return robot, nil
}

// retrieveUser loads the user called name whose role satisfies role, appending
// "<Role> <name> does not exist" to errs otherwise.
func retrieveUser(ctx context.Context, s *store.Session, base *engine.CommandBase, name string, role model.UserRole, errs *[]engine.CommandError) (*model.User, error) {
	user, err := findUser(ctx, s, name)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Role.Includes(role) {
		*errs = append(*errs, base.Errorf("%s %s does not exist", role, name))
		return nil, nil
	}
	return user, nil
}

// activeSession returns the first session for ownerID that expires after now.
func activeSession(ctx context.Context, s *store.Session, ownerID string, after func(*model.Session) bool) (*model.Session, error) {
	return store.First[model.Session](ctx, s, func(us *model.Session) bool {
		return us.UserID == ownerID && after(us)
	})
}

func nextConversationID(ctx context.Context, s *store.Session) (int64, error) {
	values, err := store.First[model.SystemValues](ctx, s, nil)
	if err != nil {
		return 0, err
	}
	if values == nil {
		values = &model.SystemValues{}
		if err := s.Store(ctx, values); err != nil {
			return 0, err
		}
	}
	values.NextConversationID++
	return values.NextConversationID, nil
}
