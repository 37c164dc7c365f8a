package commands

import (
	"context"

	"roboclass/internal/engine"
	"roboclass/internal/model"
	"roboclass/internal/store"
	"roboclass/pkg/types"
)

// StartUserConversation opens a new conversation for a user.
type StartUserConversation struct {
	engine.CommandBase
	Name string                 `json:"name"`
	Type model.ConversationType `json:"type"`

	user *model.User
}

func (c *StartUserConversation) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	if isBlank(c.Name) {
		return []engine.CommandError{c.Errorf("Name is required")}, nil
	}
	return c.Restore(ctx, s)
}

func (c *StartUserConversation) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	var err error
	c.user, err = retrieveUser(ctx, s, &c.CommandBase, c.Name, model.RoleUser, &errs)
	return errs, err
}

func (c *StartUserConversation) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.user != nil); err != nil {
		return nil, err
	}
	conversation, err := startConversation(ctx, s, c.Type, c.user.ID, c.user.Name, "User")
	if err != nil {
		return nil, err
	}
	return c.Success(conversation), nil
}

// StartRobotConversation opens a new conversation for a robot.
type StartRobotConversation struct {
	engine.CommandBase
	Name string                 `json:"name"`
	Type model.ConversationType `json:"type"`

	robot *model.Robot
}

func (c *StartRobotConversation) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	if isBlank(c.Name) {
		return []engine.CommandError{c.Errorf("Name is required")}, nil
	}
	return c.Restore(ctx, s)
}

func (c *StartRobotConversation) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	var err error
	c.robot, err = retrieveRobot(ctx, s, &c.CommandBase, c.Name, &errs)
	return errs, err
}

func (c *StartRobotConversation) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.robot != nil); err != nil {
		return nil, err
	}
	conversation, err := startConversation(ctx, s, c.Type, c.robot.ID, c.robot.MachineName, "Robot")
	if err != nil {
		return nil, err
	}
	return c.Success(conversation), nil
}

func startConversation(ctx context.Context, s *store.Session, conversationType model.ConversationType, sourceID, sourceName, sourceType string) (*model.Conversation, error) {
	id, err := nextConversationID(ctx, s)
	if err != nil {
		return nil, err
	}
	if conversationType == "" {
		conversationType = model.ConversationUnknown
	}
	conversation := &model.Conversation{
		ConversationID:   id,
		ConversationType: conversationType,
		SourceID:         sourceID,
		SourceName:       sourceName,
		SourceType:       sourceType,
	}
	if err := s.Store(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// AddToRobotLog appends a line to the robot's log for a conversation, creating
// the log on first use.
type AddToRobotLog struct {
	engine.CommandBase
	MachineName           string             `json:"machineName"`
	Description           string             `json:"description"`
	SourceMessageType     types.MessageType  `json:"sourceMessageType"`
	Values                []model.NamedValue `json:"values,omitempty"`
	ConversationID        int64              `json:"conversationId"`
	SkipConversationCheck bool               `json:"skipConversationCheck,omitempty"`

	robot        *model.Robot
	conversation *model.Conversation
}

func (c *AddToRobotLog) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.MachineName) {
		errs = append(errs, c.Errorf("Machine name is required"))
	}
	if isBlank(c.Description) {
		errs = append(errs, c.Errorf("Description is required"))
	}
	if len(errs) > 0 {
		return errs, nil
	}
	return c.Restore(ctx, s)
}

func (c *AddToRobotLog) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	var err error
	if c.robot, err = retrieveRobot(ctx, s, &c.CommandBase, c.MachineName, &errs); err != nil {
		return nil, err
	}
	if c.SkipConversationCheck {
		return errs, nil
	}
	c.conversation, err = store.First[model.Conversation](ctx, s, func(conv *model.Conversation) bool {
		return conv.ConversationID == c.ConversationID
	})
	if err != nil {
		return nil, err
	}
	if c.conversation == nil {
		errs = append(errs, c.Errorf("Unknown conversation"))
	}
	return errs, nil
}

func (c *AddToRobotLog) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.robot != nil, c.SkipConversationCheck || c.conversation != nil); err != nil {
		return nil, err
	}

	log, err := store.First[model.RobotLog](ctx, s, func(l *model.RobotLog) bool {
		return l.RobotID == c.robot.ID && l.Conversation.ConversationID == c.ConversationID
	})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = &model.RobotLog{
			RobotID:   c.robot.ID,
			WhenAdded: c.WhenExecuted,
		}
		if c.conversation != nil {
			log.Conversation = *c.conversation
		} else {
			log.Conversation = model.Conversation{ConversationID: c.ConversationID}
		}
		if err := s.Store(ctx, log); err != nil {
			return nil, err
		}
	}

	log.Lines = append(log.Lines, model.RobotLogLine{
		Description:       c.Description,
		SourceMessageType: c.SourceMessageType,
		Values:            append([]model.NamedValue(nil), c.Values...),
		WhenAdded:         c.WhenExecuted,
	})
	log.WhenLastUpdated = c.WhenExecuted
	return c.Success(log), nil
}

// StoreSnapshot saves a user's editor or program state.
type StoreSnapshot struct {
	engine.CommandBase
	UserName string             `json:"userName"`
	Source   string             `json:"source,omitempty"`
	State    string             `json:"state"`
	Values   []model.NamedValue `json:"values,omitempty"`

	user *model.User
}

func (c *StoreSnapshot) Validate(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	if isBlank(c.State) {
		errs = append(errs, c.Errorf("State is required"))
	}
	if isBlank(c.UserName) {
		errs = append(errs, c.Errorf("Username is required"))
	}
	if len(errs) > 0 {
		return errs, nil
	}
	return c.Restore(ctx, s)
}

func (c *StoreSnapshot) Restore(ctx context.Context, s *store.Session) ([]engine.CommandError, error) {
	var errs []engine.CommandError
	var err error
	c.user, err = retrieveUser(ctx, s, &c.CommandBase, c.UserName, model.RoleUser, &errs)
	return errs, err
}

func (c *StoreSnapshot) Apply(ctx context.Context, s *store.Session) (*engine.Result, error) {
	if err := engine.RequireState(c.user != nil); err != nil {
		return nil, err
	}

	source := c.Source
	if isBlank(source) {
		source = "Unknown"
	}
	snapshot := &model.Snapshot{
		Source:    source,
		State:     c.State,
		UserID:    c.user.ID,
		Values:    append([]model.NamedValue(nil), c.Values...),
		WhenAdded: c.WhenExecuted,
	}
	if err := s.Store(ctx, snapshot); err != nil {
		return nil, err
	}
	return c.Success(snapshot), nil
}
