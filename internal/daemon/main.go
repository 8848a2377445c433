package daemon

import (
	"context"
	"fmt"

	"github.com/pkg/profile"
	"github.com/spf13/pflag"

	"github.com/reqrep/reqrep/internal/cli"
)

var daemonArgs struct {
	profile     string
	profilePath string
}

var DaemonCmd = &cli.Subcommand{
	Use:   "daemon",
	Short: "run the servers defined in the config file",
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&daemonArgs.profile, "profile", "", "write a runtime profile while the daemon runs (cpu|mem|block|mutex)")
		f.StringVar(&daemonArgs.profilePath, "profile-path", ".", "directory for --profile output")
	},
	Run: func(subcommand *cli.Subcommand, args []string) error {
		if daemonArgs.profile != "" {
			mode, err := profileMode(daemonArgs.profile)
			if err != nil {
				return err
			}
			defer profile.Start(mode, profile.ProfilePath(daemonArgs.profilePath), profile.NoShutdownHook).Stop()
		}
		return Run(context.Background(), subcommand.Config())
	},
}

func profileMode(name string) (func(*profile.Profile), error) {
	switch name {
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfile, nil
	case "block":
		return profile.BlockProfile, nil
	case "mutex":
		return profile.MutexProfile, nil
	default:
		return nil, fmt.Errorf("unknown profile mode %q", name)
	}
}
