package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxstrauch/theia/history"
	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/wire"
	"github.com/maxstrauch/theia/vm"
)

// newTestHTTPServer serves a Server over httptest.
func newTestHTTPServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	srv := New(opts...)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})
	return hs
}

func TestServer_CBORRoundTrip(t *testing.T) {
	hs := newTestHTTPServer(t)

	run := connect.NewClient[api.RunRequest, api.RunResponse](
		hs.Client(), hs.URL+api.MachineServiceRunProcedure, connect.WithCodec(wire.Codec{}),
	)
	resp, err := run.CallUnary(context.Background(), connect.NewRequest(&api.RunRequest{
		Source:    factorial,
		Registers: []vm.Cell{{Index: 1, Value: 4}},
		Wait:      true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Msg.Status.Outcome)
	assert.Contains(t, resp.Msg.Status.Registers, vm.Cell{Index: 2, Value: 24})
}

func TestServer_JSONOverPlainHTTP(t *testing.T) {
	hs := newTestHTTPServer(t)

	body := []byte(`{"source": "x1 := 2 ; x2 := x1 * 21", "wait": true}`)
	httpResp, err := hs.Client().Post(hs.URL+api.MachineServiceRunProcedure, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var resp api.RunResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	assert.Equal(t, "completed", resp.Status.Outcome)
	assert.Equal(t, []vm.Cell{{Index: 1, Value: 2}, {Index: 2, Value: 42}}, resp.Status.Registers)
}

func TestServer_ErrorCodes(t *testing.T) {
	hs := newTestHTTPServer(t)

	destroy := connect.NewClient[api.DestroySessionRequest, api.DestroySessionResponse](
		hs.Client(), hs.URL+api.SessionServiceDestroySessionProcedure, connect.WithCodec(wire.Codec{}),
	)
	_, err := destroy.CallUnary(context.Background(), connect.NewRequest(&api.DestroySessionRequest{SessionID: "s-404"}))
	requireCode(t, err, connect.CodeNotFound)
}

func TestServer_StopFlushesJournal(t *testing.T) {
	j := openTestJournal(t)
	srv := New(WithJournal(j))

	_, err := srv.machine.Run(bg(), connectReq(&api.RunRequest{Source: "x1 := 1", Wait: true}))
	require.NoError(t, err)

	// The recording goroutine may still be queueing the entry.
	require.Eventually(t, func() bool {
		entries, err := j.Recent(bg(), history.Query{})
		return err == nil && len(entries) == 1
	}, 5*time.Second, 5*time.Millisecond)

	srv.Stop()
}

func TestServer_ShutdownStopsRuns(t *testing.T) {
	srv := New()
	session, _ := srv.Sessions().Get("")

	_, err := srv.machine.Run(bg(), connectReq(&api.RunRequest{Source: spin, Language: "while"}))
	require.NoError(t, err)
	run := session.Machine.Current()

	ctx, cancel := context.WithTimeout(bg(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	res, ended := run.Result()
	require.True(t, ended)
	assert.Equal(t, vm.Terminated, res.Outcome)
}

func TestRecorder_NilJournalDropsEntries(t *testing.T) {
	r := NewRecorder(nil, 0)
	r.Submit(history.Entry{Session: "x"})
	r.Stop()
	r.Stop()
	assert.Nil(t, r.Journal())
}

func TestRecorder_StopFlushesQueue(t *testing.T) {
	j := openTestJournal(t)
	r := NewRecorder(j, 0)
	for range 10 {
		r.Submit(history.Entry{Session: "flush", Language: "loop"})
	}
	r.Stop()

	entries, err := j.Recent(bg(), history.Query{Session: "flush"})
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestRecorder_PrunesToLimit(t *testing.T) {
	j := openTestJournal(t)
	r := NewRecorder(j, 3)
	for range 5 {
		r.Submit(history.Entry{Session: "prune", Language: "loop"})
	}
	r.Stop()

	entries, err := j.Recent(bg(), history.Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
