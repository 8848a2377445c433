package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/logger"
)

func testEntry() logger.Entry {
	return logger.Entry{
		Level:   logger.Warn,
		Message: "request exceeds max message size",
		Time:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Fields: logger.Fields{
			SubsysField: SubsysStream,
			"server":    "ctl",
			"length":    2048,
			"peer":      "127.0.0.1:40000",
		},
	}
}

func TestHumanFormatter(t *testing.T) {
	f := &HumanFormatter{}
	f.SetMetadataFlags(MetadataLevel)
	e := testEntry()
	out, err := f.Format(&e)
	require.NoError(t, err)
	assert.Equal(t, "WARN  stream/ctl: request exceeds max message size length=2048 peer=127.0.0.1:40000", string(out))

	f.SetIgnoreFields([]string{"peer"})
	f.SetMetadataFlags(MetadataNone)
	out, err = f.Format(&e)
	require.NoError(t, err)
	assert.Equal(t, "stream/ctl: request exceeds max message size length=2048", string(out))

	e.Fields[JobField] = "ctl-job"
	f.SetIgnoreFields([]string{SubsysField})
	f.SetMetadataFlags(MetadataTime)
	out, err = f.Format(&e)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:00:00Z ctl-job/ctl: request exceeds max message size length=2048 peer=127.0.0.1:40000", string(out))
}

func TestHumanFormatterColor(t *testing.T) {
	f := &HumanFormatter{}
	f.SetMetadataFlags(MetadataLevel | MetadataColor)
	e := testEntry()
	out, err := f.Format(&e)
	require.NoError(t, err)
	assert.Contains(t, string(out), "\x1b[")
	assert.Contains(t, string(out), "WARN")
}

func TestLogfmtFormatter(t *testing.T) {
	f := &LogfmtFormatter{}
	f.SetMetadataFlags(MetadataLevel)
	e := testEntry()
	out, err := f.Format(&e)
	require.NoError(t, err)
	assert.Equal(t, `level=warn subsystem=stream server=ctl msg="request exceeds max message size" length=2048 peer=127.0.0.1:40000`, string(out))

	e.Fields[JobField] = "ctl"
	e.Fields["conn"] = struct{}{}
	f.SetMetadataFlags(MetadataNone)
	out, err = f.Format(&e)
	require.NoError(t, err)
	assert.Equal(t, `job=ctl subsystem=stream server=ctl msg="request exceeds max message size" conn="<struct {}>" length=2048 peer=127.0.0.1:40000`, string(out))
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}
	e := testEntry()
	e.Fields[logger.FieldError] = errors.New("short read")
	out, err := f.Format(&e)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "warn", m[FieldLevel])
	assert.Equal(t, "request exceeds max message size", m[FieldMessage])
	assert.Equal(t, "2024-03-01T12:00:00Z", m[FieldTime])
	assert.Equal(t, "short read", m[logger.FieldError])
	assert.EqualValues(t, 2048, m["length"])
}

func TestWriterOutlet(t *testing.T) {
	var buf bytes.Buffer
	o := NewWriterOutlet(MessageOnlyFormatter{}, &buf)
	require.NoError(t, o.WriteEntry(testEntry()))
	require.NoError(t, o.WriteEntry(testEntry()))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestStdoutMetadataFlags(t *testing.T) {
	in := &config.StdoutLoggingOutlet{Time: false, Color: true}
	flags := stdoutMetadataFlags(false, in)
	assert.Zero(t, flags&MetadataTime)
	assert.Zero(t, flags&MetadataColor)
	assert.NotZero(t, flags&MetadataLevel)

	in.Color = false
	flags = stdoutMetadataFlags(true, in)
	assert.NotZero(t, flags&MetadataTime)
	assert.Zero(t, flags&MetadataColor)
}

func TestOutletsFromConfig(t *testing.T) {
	c, err := config.ParseConfigBytes([]byte(`
global:
  logging:
    - type: stdout
      level: info
      format: logfmt
servers:
  - name: a
    type: stream
    port: 9000
`))
	require.NoError(t, err)
	outlets, err := OutletsFromConfig(*c.Global.Logging)
	require.NoError(t, err)
	assert.Len(t, outlets.Get(logger.Info), 1)
	assert.Empty(t, outlets.Get(logger.Debug))

	_, err = OutletsFromConfig(config.LoggingOutletEnumList{
		{Ret: &config.StdoutLoggingOutlet{LoggingOutletCommon: config.LoggingOutletCommon{Level: "info", Format: "yaml"}}},
	})
	assert.Error(t, err)

	_, err = OutletsFromConfig(config.LoggingOutletEnumList{
		{Ret: &config.StdoutLoggingOutlet{LoggingOutletCommon: config.LoggingOutletCommon{Level: "info", Format: "human"}}},
		{Ret: &config.StdoutLoggingOutlet{LoggingOutletCommon: config.LoggingOutletCommon{Level: "warn", Format: "json"}}},
	})
	assert.Error(t, err)
}

func TestTCPOutlet(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	o := NewTCPOutlet(&LogfmtFormatter{}, "tcp", l.Addr().String(), time.Second)
	require.NoError(t, o.WriteEntry(testEntry()))
	select {
	case line := <-received:
		assert.Contains(t, line, `msg="request exceeds max message size"`)
	case <-time.After(5 * time.Second):
		t.Fatal("entry not received")
	}
	require.NoError(t, o.Close())
	assert.Error(t, o.WriteEntry(testEntry()))
}

func TestTCPOutletDropsWhileUnreachable(t *testing.T) {
	connect := func(ctx context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	o := newTCPOutlet(MessageOnlyFormatter{}, connect, time.Hour)
	for i := 0; i < 10; i++ {
		_ = o.WriteEntry(testEntry())
	}
	assert.NotZero(t, o.Dropped())
}
