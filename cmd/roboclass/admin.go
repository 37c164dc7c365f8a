package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"roboclass/internal/commands"
	"roboclass/internal/engine"
	"roboclass/internal/model"
)

// execute runs one administration command against the configured database.
func execute(cmd *cobra.Command, opts *options, command engine.Command) error {
	application, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	_, err = application.Execute(cmd.Context(), command)
	return err
}

func newRobotCommand(opts *options) *cobra.Command {
	robot := &cobra.Command{
		Use:   "robot",
		Short: "Manage robots",
	}

	var friendlyName, password, robotType string
	add := &cobra.Command{
		Use:   "add <machine-name>",
		Short: "Register a robot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := execute(cmd, opts, &commands.AddRobot{
				MachineName:  args[0],
				FriendlyName: friendlyName,
				Password:     password,
				Type:         robotType,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added robot %s\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&friendlyName, "friendly-name", "", "name shown to students")
	add.Flags().StringVar(&password, "password", "", "robot password; without one the robot cannot log in")
	add.Flags().StringVar(&robotType, "type", "", "robot type name")

	remove := &cobra.Command{
		Use:   "delete <machine-name>",
		Short: "Remove a robot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := execute(cmd, opts, &commands.DeleteRobot{Name: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted robot %s\n", args[0])
			return nil
		},
	}

	robot.AddCommand(add, remove, newRobotTypeCommand(opts))
	return robot
}

func newRobotTypeCommand(opts *options) *cobra.Command {
	robotType := &cobra.Command{
		Use:   "type",
		Short: "Manage robot types",
	}

	var isDefault bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a robot type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := execute(cmd, opts, &commands.AddRobotType{Name: args[0], IsDefault: isDefault}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added robot type %s\n", args[0])
			return nil
		},
	}
	add.Flags().BoolVar(&isDefault, "default", false, "make this the default type for new robots")

	robotType.AddCommand(add)
	return robotType
}

func newUserCommand(opts *options) *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var password, role string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a student, teacher or administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := &commands.AddUser{Name: args[0], Role: model.UserRole(role)}
			if password != "" {
				command.Password = &password
			}
			if err := execute(cmd, opts, command); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s\n", role, args[0])
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "login password")
	add.Flags().StringVar(&role, "role", string(model.RoleStudent), "Student, Teacher or Administrator")

	remove := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := &commands.DeleteUser{}
			command.Name = args[0]
			if err := execute(cmd, opts, command); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %s\n", args[0])
			return nil
		},
	}

	user.AddCommand(add, remove)
	return user
}
