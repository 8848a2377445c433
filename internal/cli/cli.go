// Package cli is the registry of reqrep subcommands and the entry point
// that dispatches to them.
package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/version"
)

var rootArgs struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:           "reqrep",
	Short:         "Length-prefixed request/reply over stream and datagram sockets",
	Version:       version.NewInformation().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var bashcompCmd = &cobra.Command{
	Use:    "bashcomp path/to/out/file",
	Short:  "generate bash completions",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(rootCmd.GenBashCompletionFile(args[0]), "error generating bash completion")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootArgs.configPath, "config", "",
		fmt.Sprintf("config file path (default: first of %v)", config.ConfigFileDefaultLocations))
	rootCmd.AddCommand(bashcompCmd)
}

type Subcommand struct {
	Use             string
	Short           string
	Example         string
	NoRequireConfig bool
	// Args validates positional arguments, see cobra.PositionalArgs.
	Args             cobra.PositionalArgs
	Run              func(subcommand *Subcommand, args []string) error
	SetupFlags       func(f *pflag.FlagSet)
	SetupSubcommands func() []*Subcommand

	config    *config.Config
	configErr error
}

func (s *Subcommand) ConfigParsingError() error {
	return s.configErr
}

func (s *Subcommand) Config() *config.Config {
	if !s.NoRequireConfig && s.config == nil {
		panic("command that requires config is running and has no config set")
	}
	return s.config
}

func (s *Subcommand) run(cmd *cobra.Command, args []string) error {
	if err := s.tryParseConfig(); err != nil {
		return err
	}
	return s.Run(s, args)
}

func (s *Subcommand) tryParseConfig() error {
	config, err := config.ParseConfig(rootArgs.configPath)
	s.configErr = err
	if err != nil {
		if s.NoRequireConfig {
			// doesn't matter
			return nil
		}
		return errors.Wrap(err, "could not parse config")
	}
	s.config = config
	return nil
}

func AddSubcommand(s *Subcommand) {
	addSubcommandToCobraCmd(rootCmd, s)
}

func addSubcommandToCobraCmd(c *cobra.Command, s *Subcommand) {
	cmd := cobra.Command{
		Use:     s.Use,
		Short:   s.Short,
		Example: s.Example,
		Args:    s.Args,
	}
	if s.SetupSubcommands == nil {
		cmd.RunE = s.run
	} else {
		for _, sub := range s.SetupSubcommands() {
			addSubcommandToCobraCmd(&cmd, sub)
		}
	}
	if s.SetupFlags != nil {
		s.SetupFlags(cmd.Flags())
	}
	c.AddCommand(&cmd)
}

// Execute runs the command line args against the registered subcommands.
func Execute(args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func Run() {
	if err := Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
