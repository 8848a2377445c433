package job

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/status"
)

// HandlerFromConfig maps the handler names accepted in the config file to
// handlers.
func HandlerFromConfig(name string) (rpc.Handler, error) {
	switch name {
	case "echo":
		return rpc.Echo, nil
	case "discard":
		return rpc.NoReply, nil
	default:
		return nil, errors.Errorf("unknown handler %q", name)
	}
}

// JobsFromConfig builds one job per configured server. All servers report
// to sink in addition to their own status ring.
func JobsFromConfig(c *config.Config, sink status.Sink) ([]Job, error) {
	js := make([]Job, len(c.Servers))
	for i := range c.Servers {
		j, err := buildJob(c.Servers[i], sink)
		if err != nil {
			return nil, err
		}
		if j == nil || j.Name() == "" {
			panic(fmt.Sprintf("implementation error: job builder returned nil job type %T", c.Servers[i].Ret))
		}
		js[i] = j
	}

	// config validation checks this too, but configs built in code skip it
	names := make(map[string]bool, len(js))
	for _, j := range js {
		if names[j.Name()] {
			return nil, errors.Errorf("duplicate job name %q", j.Name())
		}
		names[j.Name()] = true
	}
	return js, nil
}

func buildJob(in config.ServerEnum, sink status.Sink) (j Job, err error) {
	switch v := in.Ret.(type) {
	case *config.StreamServer:
		j, err = newStreamJob(v, sink)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot build job %q", v.Name)
		}
	case *config.DatagramServer:
		j, err = newDatagramJob(v, sink)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot build job %q", v.Name)
		}
	default:
		panic(fmt.Sprintf("implementation error: unknown server type %T", v))
	}
	return j, nil
}
