// Package server exposes the daemon's embeddable HTTP API:
//
//	GET  {basePath}/status   current monitor status
//	POST {basePath}/cycle    trigger a reconcile cycle (409 when one is running)
//	GET  {basePath}/metrics  prometheus metrics
//	GET  {basePath}/healthz  liveness probe
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetmon/internal/engine"
	"github.com/loykin/fleetmon/internal/metrics"
)

// ErrBusy is returned by Monitor.TriggerCycle while another cycle is
// in flight. Cycles never overlap.
var ErrBusy = errors.New("cycle already running")

// Status is the monitor state reported on GET /status.
type Status struct {
	MachineID    string    `json:"machine_id"`
	ProcessName  string    `json:"process_name"`
	CycleRunning bool      `json:"cycle_running"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
	LastError    string    `json:"last_error,omitempty"`
	Live         int       `json:"live"`
	Archived     int       `json:"archived"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Failed       int       `json:"failed"`
}

// Monitor is the surface the HTTP API drives.
type Monitor interface {
	Status() Status
	TriggerCycle(ctx context.Context) (engine.Result, error)
}

type Router struct {
	mon      Monitor
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/fleet" results in /fleet/status, /fleet/cycle.
func NewRouter(mon Monitor, basePath string) *Router {
	return &Router{mon: mon, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted
// in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/cycle", r.handleCycle)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call the returned server's Close or Shutdown to stop it.
func NewServer(addr, basePath string, mon Monitor) (*http.Server, error) {
	r := NewRouter(mon, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mon.Status())
}

type archivedEntry struct {
	ProcessID string `json:"process_id"`
	Channel   string `json:"channel"`
	AccountID string `json:"account_id"`
}

type cycleResp struct {
	Live     int             `json:"live"`
	Created  int             `json:"created"`
	Updated  int             `json:"updated"`
	Failed   int             `json:"failed"`
	Archived []archivedEntry `json:"archived"`
}

func toCycleResp(res engine.Result) cycleResp {
	out := cycleResp{
		Live:     res.Live,
		Created:  res.Created,
		Updated:  res.Updated,
		Failed:   res.Failed,
		Archived: make([]archivedEntry, 0, len(res.Archived)),
	}
	for _, rec := range res.Archived {
		out.Archived = append(out.Archived, archivedEntry{
			ProcessID: rec.ProcessID,
			Channel:   rec.Channel,
			AccountID: rec.AccountID,
		})
	}
	return out
}

func (r *Router) handleCycle(c *gin.Context) {
	res, err := r.mon.TriggerCycle(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrBusy) {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toCycleResp(res))
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}
