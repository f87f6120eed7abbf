package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fleetmon/internal/engine"
	"github.com/loykin/fleetmon/internal/record"
)

type fakeMonitor struct {
	status Status
	result engine.Result
	err    error
	calls  int
}

func (f *fakeMonitor) Status() Status { return f.status }

func (f *fakeMonitor) TriggerCycle(context.Context) (engine.Result, error) {
	f.calls++
	return f.result, f.err
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(""))
	assert.Equal(t, "", sanitizeBase("/"))
	assert.Equal(t, "/fleet", sanitizeBase("fleet"))
	assert.Equal(t, "/fleet", sanitizeBase("/fleet/"))
	assert.Equal(t, "/a/b", sanitizeBase(" /a/b "))
}

func TestStatusEndpoint(t *testing.T) {
	mon := &fakeMonitor{status: Status{MachineID: "PC-01", ProcessName: "game.exe", Live: 3}}
	srv := httptest.NewServer(NewRouter(mon, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "PC-01", got.MachineID)
	assert.Equal(t, 3, got.Live)
}

func TestCycleEndpoint(t *testing.T) {
	mon := &fakeMonitor{result: engine.Result{
		Live:    2,
		Created: 1,
		Updated: 1,
		Archived: []record.Record{
			{MachineID: "PC-01", ProcessID: "4711", Channel: "3", AccountID: "Knight42"},
		},
	}}
	srv := httptest.NewServer(NewRouter(mon, "/fleet").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/fleet/cycle", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, mon.calls)

	var got cycleResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got.Live)
	require.Len(t, got.Archived, 1)
	assert.Equal(t, "4711", got.Archived[0].ProcessID)
	assert.Equal(t, "Knight42", got.Archived[0].AccountID)
}

func TestCycleBusyReturns409(t *testing.T) {
	mon := &fakeMonitor{err: ErrBusy}
	srv := httptest.NewServer(NewRouter(mon, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/cycle", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCycleErrorReturns500(t *testing.T) {
	mon := &fakeMonitor{err: errors.New("snapshot failed")}
	srv := httptest.NewServer(NewRouter(mon, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/cycle", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var got errorResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Contains(t, got.Error, "snapshot failed")
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&fakeMonitor{}, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&fakeMonitor{}, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
