package client

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/reqrep/reqrep/internal/cli"
	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/daemon"
	"github.com/reqrep/reqrep/internal/version"
)

type VersionArgs struct {
	Show   string
	Addr   string
	Config *config.Config
}

var versionArgs VersionArgs

var VersionCmd = &cli.Subcommand{
	Use:             "version",
	Short:           "print version of reqrep binary and running daemon",
	NoRequireConfig: true,
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&versionArgs.Show, "show", "", "version info to show (client|daemon)")
		f.StringVar(&versionArgs.Addr, "addr", "", "monitoring address of the daemon (default: taken from config)")
	},
	Run: func(subcommand *cli.Subcommand, args []string) error {
		versionArgs.Config = subcommand.Config()
		return RunVersion(os.Stdout, os.Stderr, versionArgs)
	},
}

func RunVersion(stdout, stderr io.Writer, args VersionArgs) error {
	if args.Show != "daemon" && args.Show != "client" && args.Show != "" {
		return errors.New("show flag must be 'client' or 'daemon' or be left empty")
	}

	var clientVersion, daemonVersion *version.Information
	if args.Show == "client" || args.Show == "" {
		clientVersion = version.NewInformation()
		fmt.Fprintf(stdout, "client: %s\n", clientVersion.String())
	}
	if args.Show == "daemon" || args.Show == "" {
		addr, err := monitoringAddr(args.Config, args.Addr)
		if err != nil {
			return errors.Wrap(err, "daemon")
		}
		var s daemon.Status
		if err := jsonGet(monitoringHttpClient(), addr, "/status", &s); err != nil {
			return errors.Wrap(err, "daemon")
		}
		if s.Global.Version == nil {
			return errors.New("daemon: status carries no version information")
		}
		daemonVersion = s.Global.Version
		fmt.Fprintf(stdout, "daemon: %s\n", daemonVersion.String())
	}

	if args.Show == "" && clientVersion.Version != daemonVersion.Version {
		fmt.Fprintf(stderr, "WARNING: client version != daemon version, restart reqrep daemon\n")
	}
	return nil
}
