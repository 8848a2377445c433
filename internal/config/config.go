package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/zrepl/yaml-config"

	"github.com/reqrep/reqrep/internal/util/datasizeunit"
)

type Config struct {
	Servers []ServerEnum `yaml:"servers"`
	Global  *Global      `yaml:"global,optional,fromdefaults"`
}

type Global struct {
	Logging    *LoggingOutletEnumList `yaml:"logging,optional,fromdefaults"`
	Monitoring []MonitoringEnum       `yaml:"monitoring,optional"`
	Status     *GlobalStatus          `yaml:"status,optional,fromdefaults"`
}

// GlobalStatus sizes the report ring shared by all servers of the daemon.
type GlobalStatus struct {
	Capacity      int    `yaml:"capacity,optional,default=64"`
	Mode          string `yaml:"mode,optional,default=circular"`
	MaxMessageLen int    `yaml:"max_message_len,optional,default=80"`
}

func Default(i interface{}) {
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr {
		panic(v)
	}
	y := `{}`
	err := yaml.Unmarshal([]byte(y), v.Interface())
	if err != nil {
		panic(err)
	}
}

type ServerEnum struct {
	Ret interface{}
}

type ServerCommon struct {
	Type           string `yaml:"type"`
	Name           string `yaml:"name"`
	Port           int    `yaml:"port"`
	MaxMessageSize int    `yaml:"max_message_size,optional,default=1024"`
	// BandwidthDelay sizes the socket buffers, e.g. "64 KiB". Unset keeps the
	// kernel defaults.
	BandwidthDelay *datasizeunit.Bytes `yaml:"bandwidth_delay,optional"`
	Handler        string              `yaml:"handler,optional,default=echo"`
}

// BandwidthDelayKB returns the bandwidth-delay product in KiB, 0 if unset.
func (c *ServerCommon) BandwidthDelayKB() int {
	if c.BandwidthDelay == nil {
		return 0
	}
	return c.BandwidthDelay.ToKiB()
}

type StreamServer struct {
	ServerCommon  `yaml:",inline"`
	IOTimeout     time.Duration `yaml:"io_timeout,optional,positive,default=10s"`
	IgnoreSigPipe bool          `yaml:"ignore_sigpipe,optional,default=true"`
}

type DatagramServer struct {
	ServerCommon `yaml:",inline"`
}

func (e ServerEnum) Common() *ServerCommon {
	switch v := e.Ret.(type) {
	case *StreamServer:
		return &v.ServerCommon
	case *DatagramServer:
		return &v.ServerCommon
	default:
		panic(fmt.Sprintf("unknown server type %T", v))
	}
}

type LoggingOutletEnumList []LoggingOutletEnum

func (l *LoggingOutletEnumList) SetDefault() {
	def := `
type: "stdout"
time: true
level: "warn"
format: "human"
`
	s := &StdoutLoggingOutlet{}
	err := yaml.UnmarshalStrict([]byte(def), s)
	if err != nil {
		panic(err)
	}
	*l = []LoggingOutletEnum{{Ret: s}}
}

var _ yaml.Defaulter = &LoggingOutletEnumList{}

type LoggingOutletEnum struct {
	Ret interface{}
}

func (e LoggingOutletEnum) Common() *LoggingOutletCommon {
	switch v := e.Ret.(type) {
	case *StdoutLoggingOutlet:
		return &v.LoggingOutletCommon
	case *SyslogLoggingOutlet:
		return &v.LoggingOutletCommon
	case *TCPLoggingOutlet:
		return &v.LoggingOutletCommon
	default:
		panic(fmt.Sprintf("unknown logging outlet type %T", v))
	}
}

type LoggingOutletCommon struct {
	Type   string `yaml:"type"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StdoutLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Time                bool `yaml:"time,default=true"`
	Color               bool `yaml:"color,default=true"`
}

type SyslogLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	RetryInterval       time.Duration `yaml:"retry_interval,positive,default=10s"`
}

type TCPLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Address             string        `yaml:"address"`
	Net                 string        `yaml:"net,default=tcp"`
	RetryInterval       time.Duration `yaml:"retry_interval,positive,default=10s"`
}

type MonitoringEnum struct {
	Ret interface{}
}

type PrometheusMonitoring struct {
	Type           string `yaml:"type"`
	Listen         string `yaml:"listen"`
	ListenFreeBind bool   `yaml:"listen_freebind,optional,default=false"`
}

func enumUnmarshal(u func(interface{}, bool) error, types map[string]interface{}) (interface{}, error) {
	var in struct {
		Type string
	}
	if err := u(&in, true); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, &yaml.TypeError{Errors: []string{"must specify type"}}
	}

	v, ok := types[in.Type]
	if !ok {
		return nil, &yaml.TypeError{Errors: []string{fmt.Sprintf("invalid type name %q", in.Type)}}
	}
	if err := u(v, false); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *ServerEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"stream":   &StreamServer{},
		"datagram": &DatagramServer{},
	})
	return
}

func (t *LoggingOutletEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"stdout": &StdoutLoggingOutlet{},
		"syslog": &SyslogLoggingOutlet{},
		"tcp":    &TCPLoggingOutlet{},
	})
	return
}

func (t *MonitoringEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"prometheus": &PrometheusMonitoring{},
	})
	return
}

var ConfigFileDefaultLocations = []string{
	"/etc/reqrep/reqrep.yml",
	"/usr/local/etc/reqrep/reqrep.yml",
}

func ParseConfig(path string) (i *Config, err error) {

	if path == "" {
		// Try default locations
		for _, l := range ConfigFileDefaultLocations {
			stat, statErr := os.Stat(l)
			if statErr != nil {
				continue
			}
			if !stat.Mode().IsRegular() {
				err = errors.Errorf("file at default location is not a regular file: %s", l)
				return
			}
			path = l
			break
		}
	}
	if path == "" {
		return nil, errors.Errorf("no config file found at default locations %v", ConfigFileDefaultLocations)
	}

	var bytes []byte

	if bytes, err = os.ReadFile(path); err != nil {
		return
	}

	return ParseConfigBytes(bytes)
}

func ParseConfigBytes(bytes []byte) (*Config, error) {
	var c *Config
	if err := yaml.UnmarshalStrict(bytes, &c); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("config is empty or only consists of comments")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
