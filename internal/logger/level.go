package logger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error

	numLevels = iota
)

// AllLevels is ordered from least to most severe.
var AllLevels = []Level{Debug, Info, Warn, Error}

var levelNames = [numLevels]struct{ short, long string }{
	Debug: {"DEBG", "debug"},
	Info:  {"INFO", "info"},
	Warn:  {"WARN", "warn"},
	Error: {"ERRO", "error"},
}

func (l Level) valid() bool { return l >= 0 && int(l) < numLevels }

// Short is the fixed-width form used in human-readable output.
func (l Level) Short() string {
	if !l.valid() {
		return fmt.Sprintf("L%d", int(l))
	}
	return levelNames[l].short
}

func (l Level) String() string {
	if !l.valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l].long
}

// ParseLevel accepts the names returned by String, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for _, l := range AllLevels {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return -1, errors.Errorf("unknown level '%s'", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(input []byte) (err error) {
	var s string
	if err = json.Unmarshal(input, &s); err != nil {
		return err
	}
	*l, err = ParseLevel(s)
	return err
}
