// Command roboclass runs the classroom robot server and administers its
// robots and users.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"roboclass/internal/app"
	"roboclass/internal/config"
	"roboclass/internal/logging"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

func (o *options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG_FILE"),
		"JSON or YAML config file [env: ROBOCLASS_CONFIG_FILE]")
	flagSet.StringVar(&o.envFile, "env-file", "", "load variables from this file instead of ./.env")
	flagSet.StringVar(&o.logLevel, "log-level", "", "trace, debug, info, warn or error")
	flagSet.StringVar(&o.logFormat, "log-format", "", "text or json")
}

// load reads the configuration with precedence flags > file > env > defaults
// and builds the logger.
func (o *options) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	var err error
	if o.envFile != "" {
		err = config.LoadDotEnv(o.envFile)
	} else {
		err = config.LoadDotEnv()
	}
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadConfigWithPrecedence(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	logger := logging.NewWithWriter(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)
	return cfg, logger, nil
}

// open builds the application without starting any listener.
func (o *options) open(cmd *cobra.Command) (*app.Application, error) {
	cfg, logger, err := o.load(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return application, nil
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "roboclass",
		Short:         "Classroom robot server",
		Long:          "Connects students, teachers and classroom robots: sessions, robot allocation, program transfer and monitoring.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(root.PersistentFlags())

	root.AddCommand(newServeCommand(opts), newRobotCommand(opts), newUserCommand(opts))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
