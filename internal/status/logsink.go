package status

import (
	"github.com/reqrep/reqrep/internal/logger"
)

const FieldCode = "code"

// LoggerSink mirrors reports into a logger: code 0 at info level, everything else at warn level.
type LoggerSink struct {
	Log logger.Logger
}

var _ Sink = LoggerSink{}

func (s LoggerSink) Report(code int, message string) {
	l := s.Log.WithField(FieldCode, code)
	if code == CodeOK {
		l.Info(message)
	} else {
		l.Warn(message)
	}
}
