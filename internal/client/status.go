package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/zrepl/yaml-config"

	"github.com/reqrep/reqrep/internal/cli"
	"github.com/reqrep/reqrep/internal/daemon"
	"github.com/reqrep/reqrep/internal/daemon/job"
	"github.com/reqrep/reqrep/internal/status"
)

var statusArgs struct {
	addr   string
	format string
}

var StatusCmd = &cli.Subcommand{
	Use:             "status",
	Short:           "show the status reports of a running daemon",
	NoRequireConfig: true,
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&statusArgs.addr, "addr", "", "monitoring address of the daemon (default: taken from config)")
		f.StringVar(&statusArgs.format, "format", "text", "output format [text|json|yaml]")
	},
	Run: func(subcommand *cli.Subcommand, args []string) error {
		addr, err := monitoringAddr(subcommand.Config(), statusArgs.addr)
		if err != nil {
			return err
		}
		var s daemon.Status
		if err := jsonGet(monitoringHttpClient(), addr, "/status", &s); err != nil {
			return err
		}
		return printStatus(os.Stdout, &s, statusArgs.format)
	},
}

var (
	okColor  = color.New(color.FgGreen)
	errColor = color.New(color.FgRed)
)

func printReports(w io.Writer, indent string, reports []status.Report) {
	if len(reports) == 0 {
		fmt.Fprintf(w, "%s(no reports)\n", indent)
		return
	}
	for _, r := range reports {
		c := okColor
		if r.Code != status.CodeOK {
			c = errColor
		}
		fmt.Fprintf(w, "%s%s ", indent, r.Time.Format("2006-01-02T15:04:05"))
		c.Fprintf(w, "[%d]", r.Code)
		fmt.Fprintf(w, " %s\n", r.Message)
	}
}

func printStatus(w io.Writer, s *daemon.Status, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		return yaml.NewEncoder(w).Encode(s)
	case "text":
	default:
		return fmt.Errorf("unsupported --format %q", format)
	}

	if s.Global.Version != nil {
		fmt.Fprintf(w, "Daemon: %s instance=%s\n", s.Global.Version.String(), s.Global.Instance)
	}

	names := make([]string, 0, len(s.Jobs))
	for name := range s.Jobs {
		if daemon.IsInternalJobName(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		js := s.Jobs[name]
		fmt.Fprintf(w, "Server: %s (%s)", name, js.Type)
		ss, ok := js.JobSpecific.(*job.ServerStatus)
		if !ok {
			fmt.Fprintln(w)
			continue
		}
		if ss.Addr != "" {
			fmt.Fprintf(w, " listening on %s", ss.Addr)
		} else {
			fmt.Fprint(w, " not listening")
		}
		fmt.Fprintln(w)
		printReports(w, "  ", ss.Reports)
	}

	if s.Global.Overflow > 0 {
		fmt.Fprintf(w, "All reports (%d older reports dropped):\n", s.Global.Overflow)
	} else {
		fmt.Fprintln(w, "All reports:")
	}
	printReports(w, "  ", s.Global.Reports)
	return nil
}
