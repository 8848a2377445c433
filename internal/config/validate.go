package config

import (
	"github.com/pkg/errors"
)

var Handlers = []string{"echo", "discard"}

var StatusModes = []string{"circular", "linear"}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks the constraints that cannot be expressed through struct tags.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		sc := s.Common()
		if sc.Name == "" {
			return errors.Errorf("server #%d: must specify name", i)
		}
		if names[sc.Name] {
			return errors.Errorf("server name %q is not unique", sc.Name)
		}
		names[sc.Name] = true
		if sc.Port < 1 || sc.Port > 65535 {
			return errors.Errorf("server %q: port %d out of range 1..65535", sc.Name, sc.Port)
		}
		if sc.MaxMessageSize <= 0 {
			return errors.Errorf("server %q: max_message_size must be positive", sc.Name)
		}
		if sc.BandwidthDelay != nil && sc.BandwidthDelay.ToBytes() > 0 && sc.BandwidthDelayKB() == 0 {
			return errors.Errorf("server %q: bandwidth_delay must be at least 1 KiB", sc.Name)
		}
		if !oneOf(sc.Handler, Handlers) {
			return errors.Errorf("server %q: invalid handler %q, must be one of %v", sc.Name, sc.Handler, Handlers)
		}
	}

	st := c.Global.Status
	if st.Capacity <= 0 {
		return errors.Errorf("global.status.capacity must be positive")
	}
	if st.MaxMessageLen <= 0 {
		return errors.Errorf("global.status.max_message_len must be positive")
	}
	if !oneOf(st.Mode, StatusModes) {
		return errors.Errorf("global.status.mode: invalid mode %q, must be one of %v", st.Mode, StatusModes)
	}

	var prometheusJobs int
	for _, m := range c.Global.Monitoring {
		if _, ok := m.Ret.(*PrometheusMonitoring); ok {
			prometheusJobs++
		}
	}
	if prometheusJobs > 1 {
		return errors.Errorf("global.monitoring: can only define one 'prometheus' job")
	}
	return nil
}
