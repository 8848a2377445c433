package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-logfmt/logfmt"
	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/logger"
)

const (
	FieldLevel   = "level"
	FieldMessage = "msg"
	FieldTime    = "time"
)

// originFields name the component an entry comes from, outermost first.
// Formatters emit them ahead of the message, in this order.
var originFields = []string{JobField, SubsysField, "server", "client"}

type MetadataFlags int64

const (
	MetadataTime MetadataFlags = 1 << iota
	MetadataLevel
	MetadataColor

	MetadataNone MetadataFlags = 0
	MetadataAll  MetadataFlags = ^0
)

// MessageOnlyFormatter emits the bare message.
type MessageOnlyFormatter struct{}

func (MessageOnlyFormatter) SetMetadataFlags(MetadataFlags) {}

func (MessageOnlyFormatter) Format(e *logger.Entry) ([]byte, error) {
	return []byte(e.Message), nil
}

// split separates the origin values of e from its remaining field names,
// which are returned sorted.
func split(e *logger.Entry, hidden func(string) bool) (origin []string, rest []string) {
	isOrigin := make(map[string]bool, len(originFields))
	for _, k := range originFields {
		isOrigin[k] = true
		if v, ok := e.Fields[k]; ok && !hidden(k) {
			origin = append(origin, fmt.Sprint(v))
		}
	}
	for k := range e.Fields {
		if !isOrigin[k] && !hidden(k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return origin, rest
}

func encodeFields(enc *logfmt.Encoder, e *logger.Entry, keys []string) error {
	for _, k := range keys {
		v := e.Fields[k]
		err := enc.EncodeKeyval(k, v)
		if err == logfmt.ErrUnsupportedValueType {
			err = enc.EncodeKeyval(k, fmt.Sprintf("<%T>", v))
		}
		if err != nil {
			return errors.Wrapf(err, "cannot encode field '%s'", k)
		}
	}
	return nil
}

// HumanFormatter renders
//
//	2024-03-01T12:00:00Z WARN  ctl/stream/ctl: message key=value ...
//
// with the origin path built from the job, subsystem and server or client
// fields that are present.
type HumanFormatter struct {
	metadataFlags MetadataFlags
	hidden        []string
}

const HumanFormatterDateFormat = time.RFC3339

var levelColors = map[logger.Level]color.Attribute{
	logger.Debug: color.FgHiBlack,
	logger.Info:  color.FgCyan,
	logger.Warn:  color.FgYellow,
	logger.Error: color.FgRed,
}

func (f *HumanFormatter) SetMetadataFlags(flags MetadataFlags) {
	f.metadataFlags = flags
}

// SetIgnoreFields hides the named fields, origin fields included.
func (f *HumanFormatter) SetIgnoreFields(ignore []string) {
	f.hidden = append([]string(nil), ignore...)
}

func (f *HumanFormatter) isHidden(field string) bool {
	for _, h := range f.hidden {
		if h == field {
			return true
		}
	}
	return false
}

func (f *HumanFormatter) level(l logger.Level) string {
	s := fmt.Sprintf("%-5s", l.Short())
	attr, ok := levelColors[l]
	if f.metadataFlags&MetadataColor == 0 || !ok {
		return s
	}
	// color.NoColor reflects stdout, this formatter may write elsewhere
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

func (f *HumanFormatter) Format(e *logger.Entry) ([]byte, error) {
	var meta []string
	if f.metadataFlags&MetadataTime != 0 {
		meta = append(meta, e.Time.Format(HumanFormatterDateFormat))
	}
	if f.metadataFlags&MetadataLevel != 0 {
		meta = append(meta, f.level(e.Level))
	}
	origin, rest := split(e, f.isHidden)

	var line bytes.Buffer
	line.WriteString(strings.Join(meta, " "))
	if len(origin) > 0 {
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(strings.Join(origin, "/"))
	}
	if line.Len() > 0 {
		line.WriteString(": ")
	}
	line.WriteString(e.Message)

	if len(rest) > 0 {
		line.WriteByte(' ')
		if err := encodeFields(logfmt.NewEncoder(&line), e, rest); err != nil {
			return nil, err
		}
	}
	return line.Bytes(), nil
}

// LogfmtFormatter emits one logfmt record per entry: metadata, origin
// fields, the message, then the other fields sorted by name.
type LogfmtFormatter struct {
	metadataFlags MetadataFlags
}

func (f *LogfmtFormatter) SetMetadataFlags(flags MetadataFlags) {
	f.metadataFlags = flags
}

func (f *LogfmtFormatter) Format(e *logger.Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := logfmt.NewEncoder(&buf)

	var head []interface{}
	if f.metadataFlags&MetadataTime != 0 {
		head = append(head, FieldTime, e.Time)
	}
	if f.metadataFlags&MetadataLevel != 0 {
		head = append(head, FieldLevel, e.Level)
	}
	for _, k := range originFields {
		if v, ok := e.Fields[k]; ok {
			head = append(head, k, v)
		}
	}
	head = append(head, FieldMessage, e.Message)
	if err := enc.EncodeKeyvals(head...); err != nil {
		return nil, err
	}

	_, rest := split(e, func(string) bool { return false })
	if err := encodeFields(enc, e, rest); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONFormatter emits one JSON object per entry. Metadata flags are ignored:
// time and level are always included.
type JSONFormatter struct{}

func (f *JSONFormatter) SetMetadataFlags(MetadataFlags) {}

func (f *JSONFormatter) Format(e *logger.Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(e.Fields)+3)
	for k, v := range e.Fields {
		if err, ok := v.(error); ok {
			// encoding/json renders most errors as {}
			data[k] = err.Error()
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			return nil, errors.Errorf("field is not JSON encodable: %s", k)
		}
		data[k] = v
	}
	data[FieldMessage] = e.Message
	data[FieldTime] = e.Time.Format(time.RFC3339)
	data[FieldLevel] = e.Level
	return json.Marshal(data)
}
