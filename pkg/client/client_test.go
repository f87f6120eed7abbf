package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL})
}

func TestStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Status{MachineID: "PC-01", Live: 2})
	})

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PC-01", st.MachineID)
	assert.Equal(t, 2, st.Live)
}

func TestTriggerCycle(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/cycle", r.URL.Path)
		_ = json.NewEncoder(w).Encode(CycleResult{
			Live:     1,
			Created:  1,
			Archived: []ArchivedRecord{{ProcessID: "99", Channel: "7", AccountID: "Hero"}},
		})
	})

	res, err := c.TriggerCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Archived, 1)
	assert.Equal(t, "Hero", res.Archived[0].AccountID)
}

func TestTriggerCycleBusy(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "cycle already running"})
	})

	_, err := c.TriggerCycle(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestTriggerCycleError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "snapshot failed"})
	})

	_, err := c.TriggerCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot failed")
}

func TestIsReachable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.True(t, c.IsReachable(context.Background()))

	down := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, down.IsReachable(context.Background()))
}
