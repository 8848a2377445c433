// Package status defines the sink that servers and clients report notable
// conditions to, together with the numeric codes attached to each report.
//
// A report is a (code, message) pair. Code 0 marks informational reports
// such as accepted connections; all other codes describe failures and are
// errno values where the failure originates in the operating system.
package status

import (
	"fmt"
)

// Sink receives status reports. Implementations must be safe for concurrent
// use and must not block.
type Sink interface {
	Report(code int, message string)
}

type SinkFunc func(code int, message string)

func (f SinkFunc) Report(code int, message string) { f(code, message) }

type discard struct{}

func (discard) Report(int, string) {}

// Discard drops every report.
var Discard Sink = discard{}

type tee []Sink

func (t tee) Report(code int, message string) {
	for _, s := range t {
		s.Report(code, message)
	}
}

// Tee returns a sink that forwards every report to all of sinks, in order.
func Tee(sinks ...Sink) Sink {
	flat := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if t, ok := s.(tee); ok {
			flat = append(flat, t...)
			continue
		}
		flat = append(flat, s)
	}
	return flat
}

// ReportError reports err under the operation name op, e.g.
// "configure(bind): address already in use".
func ReportError(s Sink, op string, err error) {
	s.Report(CodeOf(err), fmt.Sprintf("%s: %s", op, err))
}
