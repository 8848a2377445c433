package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/config"
)

func monitoringHttpClient() http.Client {
	return http.Client{Timeout: 5 * time.Second}
}

// monitoringAddr returns override if set, else the listen address of the
// first prometheus monitoring job in conf.
func monitoringAddr(conf *config.Config, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if conf == nil {
		return "", errors.New("no config file found, specify --addr")
	}
	for _, m := range conf.Global.Monitoring {
		p, ok := m.Ret.(*config.PrometheusMonitoring)
		if !ok {
			continue
		}
		host, port, err := net.SplitHostPort(p.Listen)
		if err != nil {
			return "", err
		}
		if host == "" {
			host = "127.0.0.1"
		}
		return net.JoinHostPort(host, port), nil
	}
	return "", errors.New("config defines no prometheus monitoring job, specify --addr")
}

func jsonGet(c http.Client, addr, endpoint string, res interface{}) error {
	resp, err := c.Get("http://" + addr + endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var msg bytes.Buffer
		io.CopyN(&msg, resp.Body, 4096)
		return errors.Errorf("%s: %s", resp.Status, msg.String())
	}

	return json.NewDecoder(resp.Body).Decode(res)
}
