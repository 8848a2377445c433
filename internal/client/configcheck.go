package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/zrepl/yaml-config"

	"github.com/reqrep/reqrep/internal/cli"
	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/daemon/job"
	"github.com/reqrep/reqrep/internal/daemon/logging"
	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/status"
)

var configcheckArgs struct {
	format string
	what   string
}

var ConfigcheckCmd = &cli.Subcommand{
	Use:   "configcheck",
	Short: "check if config can be parsed without errors",
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&configcheckArgs.format, "format", "", "dump parsed config object [pretty|yaml|json]")
		f.StringVar(&configcheckArgs.what, "what", "all", "what to print [all|config|jobs|logging]")
	},
	Run: func(subcommand *cli.Subcommand, args []string) error {
		return runConfigcheck(os.Stdout, os.Stderr, subcommand.Config(), configcheckArgs.format, configcheckArgs.what)
	},
}

func runConfigcheck(stdout, stderr io.Writer, conf *config.Config, format, what string) error {
	formatMap := map[string]func(interface{}) error{
		"": func(i interface{}) error { return nil },
		"pretty": func(i interface{}) error {
			_, err := pretty.Fprintf(stdout, "%# v\n", i)
			return err
		},
		"json": func(i interface{}) error {
			return json.NewEncoder(stdout).Encode(i)
		},
		"yaml": func(i interface{}) error {
			return yaml.NewEncoder(stdout).Encode(i)
		},
	}

	formatter, ok := formatMap[format]
	if !ok {
		return fmt.Errorf("unsupported --format %q", format)
	}

	var hadErr bool

	confJobs, err := job.JobsFromConfig(conf, status.Discard)
	if err != nil {
		err := errors.Wrap(err, "cannot build jobs from config")
		if what == "jobs" {
			return err
		}
		fmt.Fprintf(stderr, "%s\n", err)
		confJobs = nil
		hadErr = true
	}

	outlets, err := logging.OutletsFromConfig(*conf.Global.Logging)
	if err != nil {
		err := errors.Wrap(err, "cannot build logging from config")
		if what == "logging" {
			return err
		}
		fmt.Fprintf(stderr, "%s\n", err)
		outlets = nil
		hadErr = true
	}

	jobNames := make([]string, len(confJobs))
	for i, j := range confJobs {
		jobNames[i] = j.Name()
	}

	whatMap := map[string]func() error{
		"all": func() error {
			o := struct {
				Config  *config.Config
				Jobs    []string
				Logging *logger.Outlets `json:"-" yaml:"-"`
			}{
				conf,
				jobNames,
				outlets,
			}
			return formatter(o)
		},
		"config": func() error {
			return formatter(conf)
		},
		"jobs": func() error {
			return formatter(jobNames)
		},
		"logging": func() error {
			return formatter(outlets)
		},
	}

	wf, ok := whatMap[what]
	if !ok {
		return fmt.Errorf("unsupported --what %q", what)
	}
	if err := wf(); err != nil {
		return errors.Wrap(err, "cannot print result")
	}

	if hadErr {
		return fmt.Errorf("config parsing failed")
	}
	return nil
}
