package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	reqrepVersion string // set by build infrastructure via -ldflags -X
)

func versionString() string {
	if reqrepVersion != "" {
		return reqrepVersion
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}

type Information struct {
	Version         string
	RuntimeGo       string
	RuntimeGOOS     string
	RuntimeGOARCH   string
	RuntimeCompiler string
}

func NewInformation() *Information {
	return &Information{
		Version:         versionString(),
		RuntimeGo:       runtime.Version(),
		RuntimeGOOS:     runtime.GOOS,
		RuntimeGOARCH:   runtime.GOARCH,
		RuntimeCompiler: runtime.Compiler,
	}
}

func (i *Information) String() string {
	return fmt.Sprintf("reqrep version=%s go=%s GOOS=%s GOARCH=%s Compiler=%s",
		i.Version, i.RuntimeGo, i.RuntimeGOOS, i.RuntimeGOARCH, i.RuntimeCompiler)
}

var prometheusMetric = prometheus.NewUntypedFunc(
	prometheus.UntypedOpts{
		Namespace: "reqrep",
		Subsystem: "version",
		Name:      "daemon",
		Help:      "reqrep daemon version",
		ConstLabels: map[string]string{
			"raw":          reqrepVersion,
			"version_info": NewInformation().String(),
		},
	},
	func() float64 { return 1 },
)

func PrometheusRegister(r prometheus.Registerer) error {
	return r.Register(prometheusMetric)
}
