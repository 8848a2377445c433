// Package job defines the units the daemon runs: one job per configured
// server plus internal jobs such as the metrics endpoint.
package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reqrep/reqrep/internal/daemon/logging"
	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/status"
)

type Logger = logger.Logger

type contextKey int

const contextKeyLog contextKey = 0

func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKeyLog, l)
}

func GetLogger(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKeyLog).(Logger); ok {
		return l
	}
	return logger.NewNullLogger()
}

func getSubsystemLogger(ctx context.Context, subsys logging.Subsystem) Logger {
	return logging.LogSubsystem(GetLogger(ctx), subsys)
}

type Job interface {
	Name() string
	// Run blocks until ctx is done or the job fails.
	Run(ctx context.Context) error
	Status() *Status
	RegisterMetrics(registerer prometheus.Registerer) error
}

type Type string

const (
	TypeInternal Type = "internal"
	TypeStream   Type = "stream"
	TypeDatagram Type = "datagram"
)

type Status struct {
	Type        Type
	JobSpecific interface{}
}

// ServerStatus is the job-specific status of server jobs.
type ServerStatus struct {
	Addr    string
	Reports []status.Report
}

func (s *Status) MarshalJSON() ([]byte, error) {
	typeJSON, err := json.Marshal(s.Type)
	if err != nil {
		return nil, err
	}
	jobJSON, err := json.Marshal(s.JobSpecific)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{
		"type":         typeJSON,
		string(s.Type): jobJSON,
	}
	return json.Marshal(m)
}

func (s *Status) UnmarshalJSON(in []byte) (err error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(in, &m); err != nil {
		return err
	}
	tJSON, ok := m["type"]
	if !ok {
		return fmt.Errorf("field 'type' not found")
	}
	if err := json.Unmarshal(tJSON, &s.Type); err != nil {
		return err
	}
	key := string(s.Type)
	jobJSON, ok := m[key]
	if !ok {
		return fmt.Errorf("field '%s', not found", key)
	}
	switch s.Type {
	case TypeStream, TypeDatagram:
		var st ServerStatus
		err = json.Unmarshal(jobJSON, &st)
		s.JobSpecific = &st
	case TypeInternal:
		// internal jobs do not report specifics
	default:
		err = fmt.Errorf("unknown job type '%s'", key)
	}
	return err
}
