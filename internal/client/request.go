package client

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/reqrep/reqrep/internal/cli"
	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/daemon/logging"
	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/datagram"
	"github.com/reqrep/reqrep/internal/rpc/stream"
	"github.com/reqrep/reqrep/internal/status"
)

type RequestArgs struct {
	Type     string
	Host     string
	Port     int
	Server   string
	Timeout  time.Duration
	BDPKB    int
	MaxReply int
	NoReply  bool
	Count    int
	Verbose  bool
}

var requestArgs RequestArgs

var RequestCmd = &cli.Subcommand{
	Use:   "request [flags] PAYLOAD",
	Short: "send a request to a server and print the reply",
	Example: `  reqrep request --port 9000 hello
  reqrep request --server ctl hello
  echo hello | reqrep request --type datagram --port 9001 -`,
	NoRequireConfig: true,
	Args:            cobra.ExactArgs(1),
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&requestArgs.Type, "type", "stream", "transport [stream|datagram]")
		f.StringVar(&requestArgs.Host, "host", "localhost", "server host")
		f.IntVar(&requestArgs.Port, "port", 0, "server port")
		f.StringVar(&requestArgs.Server, "server", "", "take type and port from the named server in the config file")
		f.DurationVar(&requestArgs.Timeout, "timeout", 5*time.Second, "reply timeout, 0 waits forever")
		f.IntVar(&requestArgs.BDPKB, "bdp", 0, "bandwidth-delay product in KiB used to size socket buffers")
		f.IntVar(&requestArgs.MaxReply, "max-reply", 64*1024, "largest reply accepted")
		f.BoolVar(&requestArgs.NoReply, "no-reply", false, "do not wait for a reply")
		f.IntVar(&requestArgs.Count, "count", 1, "number of requests to send over the same client")
		f.BoolVar(&requestArgs.Verbose, "verbose", false, "log client status reports to stderr")
	},
	Run: func(subcommand *cli.Subcommand, args []string) error {
		payload, err := readPayload(args[0], os.Stdin)
		if err != nil {
			return err
		}
		a := requestArgs
		if a.Server != "" {
			if err := a.fromConfig(subcommand.Config()); err != nil {
				return err
			}
		}
		return RunRequest(os.Stdout, os.Stderr, a, payload)
	},
}

func readPayload(arg string, stdin io.Reader) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, errors.Wrap(err, "read payload from stdin")
	}
	return b, nil
}

func (a *RequestArgs) fromConfig(conf *config.Config) error {
	if conf == nil {
		return errors.New("--server requires a config file")
	}
	for _, s := range conf.Servers {
		c := s.Common()
		if c.Name == a.Server {
			a.Type = c.Type
			a.Port = c.Port
			return nil
		}
	}
	return errors.Errorf("config defines no server named %q", a.Server)
}

type requester interface {
	Configure(host string, port int, replyTimeout time.Duration, bdpKB int) error
	Request(out, in []byte) (n int, err error)
	Close() error
}

func newRequester(typ string, opts ...rpc.Option) (requester, error) {
	switch typ {
	case "stream":
		c := stream.NewClient(opts...)
		c.EnableIgnoreSigPipe()
		return c, nil
	case "datagram":
		return datagram.NewClient(opts...), nil
	default:
		return nil, errors.Errorf("unknown transport type %q", typ)
	}
}

func RunRequest(stdout, stderr io.Writer, a RequestArgs, payload []byte) error {
	if a.Port < 1 || a.Port > 65535 {
		return errors.Errorf("port %d out of range 1..65535", a.Port)
	}
	if a.Count < 1 {
		return errors.Errorf("count must be positive")
	}

	log := logger.NewNullLogger()
	sink := status.Discard
	if a.Verbose {
		outlet := logging.NewWriterOutlet(&logging.HumanFormatter{}, stderr)
		outlets := logger.NewOutlets()
		outlets.Add(outlet, logger.Debug)
		log = logger.NewLogger(outlets, time.Second)
		sink = status.LoggerSink{Log: logging.LogSubsystem(log, logging.SubsysStatus)}
	}

	c, err := newRequester(a.Type,
		rpc.WithName("cli"),
		rpc.WithLogger(log),
		rpc.WithSink(sink),
	)
	if err != nil {
		return err
	}
	if err := c.Configure(a.Host, a.Port, a.Timeout, a.BDPKB); err != nil {
		return err
	}
	defer c.Close()

	var in []byte
	if !a.NoReply {
		in = make([]byte, a.MaxReply)
	}
	latencies := make(stats.Float64Data, 0, a.Count)
	for i := 0; i < a.Count; i++ {
		start := time.Now()
		n, err := c.Request(payload, in)
		if err != nil {
			return err
		}
		latencies = append(latencies, time.Since(start).Seconds())
		if in != nil {
			fmt.Fprintf(stdout, "%s\n", in[:n])
		}
	}
	if a.Count > 1 {
		summary, err := summarizeLatencies(latencies)
		if err != nil {
			return err
		}
		fmt.Fprintln(stderr, summary)
	}
	return nil
}

func summarizeLatencies(l stats.Float64Data) (string, error) {
	lo, err := l.Min()
	if err != nil {
		return "", err
	}
	hi, err := l.Max()
	if err != nil {
		return "", err
	}
	mean, err := l.Mean()
	if err != nil {
		return "", err
	}
	p50, err := l.Percentile(50)
	if err != nil {
		return "", err
	}
	p99, err := l.Percentile(99)
	if err != nil {
		return "", err
	}
	d := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
	return fmt.Sprintf("requests=%d min=%s mean=%s p50=%s p99=%s max=%s",
		len(l), d(lo), d(mean), d(p50), d(p99), d(hi)), nil
}
