package job

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/datagram"
	"github.com/reqrep/reqrep/internal/rpc/stream"
	"github.com/reqrep/reqrep/internal/status"
)

func TestHandlerFromConfig(t *testing.T) {
	h, err := HandlerFromConfig("echo")
	require.NoError(t, err)
	reply, ok := h.Handle([]byte("x"))
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), reply)

	h, err = HandlerFromConfig("discard")
	require.NoError(t, err)
	_, ok = h.Handle([]byte("x"))
	assert.False(t, ok)

	_, err = HandlerFromConfig("reverse")
	assert.Error(t, err)
}

func TestJobsFromConfig(t *testing.T) {
	conf, err := config.ParseConfigBytes([]byte(`
servers:
  - name: ctl
    type: stream
    port: 9000
  - name: health
    type: datagram
    port: 9001
    handler: discard
`))
	require.NoError(t, err)

	jobs, err := JobsFromConfig(conf, status.Discard)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "ctl", jobs[0].Name())
	assert.IsType(t, &StreamJob{}, jobs[0])
	assert.Equal(t, "health", jobs[1].Name())
	assert.IsType(t, &DatagramJob{}, jobs[1])
}

func TestJobsFromConfigDuplicateName(t *testing.T) {
	common := config.ServerCommon{Type: "stream", Name: "a", Port: 1, MaxMessageSize: 8, Handler: "echo"}
	conf := &config.Config{Servers: []config.ServerEnum{
		{Ret: &config.StreamServer{ServerCommon: common}},
		{Ret: &config.StreamServer{ServerCommon: common}},
	}}
	_, err := JobsFromConfig(conf, status.Discard)
	assert.Error(t, err)
}

// waitAddr polls the job status until the server is listening.
func waitAddr(t *testing.T, j Job) (string, int) {
	t.Helper()
	var addr string
	require.Eventually(t, func() bool {
		addr = j.Status().JobSpecific.(*ServerStatus).Addr
		return addr != ""
	}, 5*time.Second, 10*time.Millisecond)
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return addr, port
}

func runJob(t *testing.T, j Job) (cancel func() error) {
	ctx, cancelCtx := context.WithCancel(WithLogger(context.Background(), logger.NewTestLogger(t)))
	errc := make(chan error, 1)
	go func() { errc <- j.Run(ctx) }()
	return func() error {
		cancelCtx()
		return <-errc
	}
}

func TestStreamJob(t *testing.T) {
	j, err := newStreamJob(&config.StreamServer{
		ServerCommon: config.ServerCommon{Type: "stream", Name: "ctl", MaxMessageSize: 64, Handler: "echo"},
		IOTimeout:    time.Second,
	}, status.Discard)
	require.NoError(t, err)
	stop := runJob(t, j)
	_, port := waitAddr(t, j)

	c := stream.NewClient(rpc.WithLogger(logger.NewTestLogger(t)))
	require.NoError(t, c.Configure("127.0.0.1", port, time.Second, 0))
	defer c.Close()
	in := make([]byte, 64)
	n, err := c.Request([]byte("hello"), in)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(in[:n]))

	require.NoError(t, stop())

	st := j.Status().JobSpecific.(*ServerStatus)
	var accepted bool
	for _, r := range st.Reports {
		accepted = accepted || (r.Code == status.CodeOK && strings.HasPrefix(r.Message, "accept "))
	}
	assert.True(t, accepted, "%v", st.Reports)
}

func TestStreamJobConfigureFailure(t *testing.T) {
	j, err := newStreamJob(&config.StreamServer{
		ServerCommon: config.ServerCommon{Type: "stream", Name: "ctl", MaxMessageSize: 0, Handler: "echo"},
	}, status.Discard)
	require.NoError(t, err)
	err = j.Run(WithLogger(context.Background(), logger.NewTestLogger(t)))
	require.Error(t, err)
	assert.Equal(t, status.CodeInvalid, status.CodeOf(err))
}

func TestDatagramJob(t *testing.T) {
	j, err := newDatagramJob(&config.DatagramServer{
		ServerCommon: config.ServerCommon{Type: "datagram", Name: "health", MaxMessageSize: 64, Handler: "echo"},
	}, status.Discard)
	require.NoError(t, err)
	stop := runJob(t, j)
	_, port := waitAddr(t, j)

	c := datagram.NewClient(rpc.WithLogger(logger.NewTestLogger(t)))
	require.NoError(t, c.Configure("127.0.0.1", port, time.Second, 0))
	defer c.Close()
	in := make([]byte, 64)
	n, err := c.Request([]byte("ping"), in)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(in[:n]))

	require.NoError(t, stop())
}

func TestStatusJSON(t *testing.T) {
	in := &Status{
		Type: TypeStream,
		JobSpecific: &ServerStatus{
			Addr:    "[::]:9000",
			Reports: []status.Report{{Code: 0, Message: "accept 127.0.0.1:1234"}},
		},
	}
	buf, err := json.Marshal(in)
	require.NoError(t, err)

	var out Status
	require.NoError(t, json.Unmarshal(buf, &out))
	assert.Equal(t, TypeStream, out.Type)
	st, ok := out.JobSpecific.(*ServerStatus)
	require.True(t, ok)
	assert.Equal(t, "[::]:9000", st.Addr)
	require.Len(t, st.Reports, 1)
	assert.Equal(t, "accept 127.0.0.1:1234", st.Reports[0].Message)

	var bad Status
	assert.Error(t, json.Unmarshal([]byte(`{"type":"bogus","bogus":{}}`), &bad))
}
