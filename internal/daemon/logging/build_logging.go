package logging

import (
	"log/syslog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/logger"
)

// OutletsFromConfig builds the log outlets of the daemon. An empty list logs
// warnings and errors to stdout.
func OutletsFromConfig(in config.LoggingOutletEnumList) (*logger.Outlets, error) {
	outlets := logger.NewOutlets()

	if len(in) == 0 {
		outlets.Add(NewWriterOutlet(&HumanFormatter{}, os.Stdout), logger.Warn)
		return outlets, nil
	}

	perType := make(map[string]int, 2)
	for i, le := range in {
		outlet, minLevel, err := parseOutlet(le)
		if err != nil {
			outlets.Close()
			return nil, errors.Wrapf(err, "cannot parse outlet #%d", i)
		}
		outlets.Add(outlet, minLevel)
		switch le.Ret.(type) {
		case *config.StdoutLoggingOutlet:
			perType["stdout"]++
		case *config.SyslogLoggingOutlet:
			perType["syslog"]++
		}
	}

	for _, t := range []string{"stdout", "syslog"} {
		if perType[t] > 1 {
			outlets.Close()
			return nil, errors.Errorf("can only define one '%s' outlet", t)
		}
	}
	return outlets, nil
}

type Subsystem string

const (
	SubsysField = "subsystem"
	JobField    = "job"
)

const (
	SubsysDaemon     Subsystem = "daemon"
	SubsysStream     Subsystem = "stream"
	SubsysDatagram   Subsystem = "datagram"
	SubsysStatus     Subsystem = "status"
	SubsysMonitoring Subsystem = "monitoring"
)

func LogSubsystem(log logger.Logger, subsys Subsystem) logger.Logger {
	return log.ReplaceField(SubsysField, subsys)
}

func parseLogFormat(i interface{}) (f EntryFormatter, err error) {
	var is string
	switch j := i.(type) {
	case string:
		is = j
	default:
		return nil, errors.Errorf("invalid log format: wrong type: %T", i)
	}

	switch is {
	case "human":
		return &HumanFormatter{}, nil
	case "logfmt":
		return &LogfmtFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	default:
		return nil, errors.Errorf("invalid log format: '%s'", is)
	}

}

func parseOutlet(in config.LoggingOutletEnum) (o logger.Outlet, minLevel logger.Level, err error) {
	common := in.Common()
	if common.Level == "" || common.Format == "" {
		return nil, 0, errors.Errorf("must specify 'level' and 'format' field")
	}
	minLevel, err = logger.ParseLevel(common.Level)
	if err != nil {
		return nil, 0, errors.Wrap(err, "cannot parse 'level' field")
	}
	f, err := parseLogFormat(common.Format)
	if err != nil {
		return nil, 0, errors.Wrap(err, "cannot parse 'format' field")
	}

	switch v := in.Ret.(type) {
	case *config.StdoutLoggingOutlet:
		o, err = parseStdoutOutlet(v, f)
	case *config.TCPLoggingOutlet:
		o, err = parseTCPOutlet(v, f)
	case *config.SyslogLoggingOutlet:
		o, err = parseSyslogOutlet(v, f)
	default:
		panic(v)
	}
	return o, minLevel, err
}

// stdoutMetadataFlags drops timestamps when not writing to a terminal (the
// service manager adds its own) unless requested, and drops colors on a
// terminal if disabled.
func stdoutMetadataFlags(tty bool, in *config.StdoutLoggingOutlet) MetadataFlags {
	flags := MetadataAll
	if !tty {
		flags &= ^MetadataColor
		if !in.Time {
			flags &= ^MetadataTime
		}
	}
	if tty && !in.Color {
		flags &= ^MetadataColor
	}
	return flags
}

func parseStdoutOutlet(in *config.StdoutLoggingOutlet, formatter EntryFormatter) (WriterOutlet, error) {
	writer := os.Stdout
	tty := isatty.IsTerminal(writer.Fd()) || isatty.IsCygwinTerminal(writer.Fd())
	formatter.SetMetadataFlags(stdoutMetadataFlags(tty, in))
	return NewWriterOutlet(formatter, writer), nil
}

func parseTCPOutlet(in *config.TCPLoggingOutlet, formatter EntryFormatter) (out *TCPOutlet, err error) {
	if in.Address == "" {
		return nil, errors.New("must specify 'address' field")
	}
	formatter.SetMetadataFlags(MetadataAll &^ MetadataColor)
	return NewTCPOutlet(formatter, in.Net, in.Address, in.RetryInterval), nil
}

func parseSyslogOutlet(in *config.SyslogLoggingOutlet, formatter EntryFormatter) (out *SyslogOutlet, err error) {
	formatter.SetMetadataFlags(MetadataNone)
	return &SyslogOutlet{
		Formatter:     formatter,
		RetryInterval: in.RetryInterval,
		Facility:      syslog.LOG_DAEMON,
	}, nil
}
