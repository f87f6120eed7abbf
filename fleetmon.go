// Package fleetmon monitors a fleet of game client processes on one
// machine and reconciles them against a shared record store. It is the
// public facade over the internal packages; the fleetmon CLI and any
// embedding program build a Monitor from a config.Config and drive it.
package fleetmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/fleetmon/internal/capture"
	cfg "github.com/loykin/fleetmon/internal/config"
	"github.com/loykin/fleetmon/internal/engine"
	"github.com/loykin/fleetmon/internal/enumerator"
	"github.com/loykin/fleetmon/internal/logger"
	"github.com/loykin/fleetmon/internal/metrics"
	"github.com/loykin/fleetmon/internal/normalize"
	"github.com/loykin/fleetmon/internal/notify"
	"github.com/loykin/fleetmon/internal/ocr"
	"github.com/loykin/fleetmon/internal/record"
	"github.com/loykin/fleetmon/internal/report"
	"github.com/loykin/fleetmon/internal/sched"
	"github.com/loykin/fleetmon/internal/server"
	"github.com/loykin/fleetmon/internal/store"
	"github.com/loykin/fleetmon/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Record = record.Record

type CycleResult = engine.Result

// ErrBusy is returned by TriggerCycle while a cycle is in flight.
var ErrBusy = server.ErrBusy

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// Monitor owns the reconcile engine, the reporter and their schedules.
type Monitor struct {
	cfg        *Config
	logger     *slog.Logger
	eng        *engine.Engine
	rep        *report.Reporter
	st         store.Store
	disconnect notify.Notifier
	sch        *sched.Scheduler
	httpSrv    *http.Server

	cycleActive atomic.Bool

	mu   sync.Mutex
	last server.Status
}

// New wires a Monitor from configuration. The caller owns the store's
// lifetime through Monitor.Close.
func New(c *Config) (*Monitor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(c.Log)

	norm, err := normalize.New(c.Reconcile.ChannelPattern)
	if err != nil {
		return nil, fmt.Errorf("channel pattern: %w", err)
	}
	gw, err := capture.NewCommandGateway(c.Reconcile.CaptureCommand, c.Reconcile.ScreenshotsDir, c.Reconcile.CaptureTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("capture gateway: %w", err)
	}
	ex := ocr.NewTesseract(c.Reconcile.OCRBinary, c.Reconcile.OCRTimeout, log)
	enum := enumerator.NewGopsutil(c.ProcessName, log)

	st, err := factory.New(factory.Config{
		Type:       c.Store.Type,
		DSN:        c.Store.DSN,
		Token:      c.Store.Token,
		DatabaseID: c.Store.DatabaseID,
		BaseURL:    c.Store.BaseURL,
		Timeout:    c.Reconcile.StoreTimeout,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	eng, err := engine.New(engine.Config{
		MachineID:     c.MachineID,
		OCRTimeout:    c.Reconcile.OCRTimeout,
		StoreTimeout:  c.Reconcile.StoreTimeout,
		ChannelRegion: c.ChannelRegion(),
		AccountRegion: c.AccountRegion(),
		UploadImages:  c.Store.UploadImages,
	}, enum, gw, ex, st, norm, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	monitorNotifier, err := webhookOrNop(c.Notify.MonitorWebhookURL, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	disconnectNotifier, err := webhookOrNop(c.Notify.DisconnectWebhookURL, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rep, err := report.New(report.Config{
		ProcessName: c.ProcessName,
		Enumerator:  enum,
		Monitor:     monitorNotifier,
		Disconnect:  disconnectNotifier,
		Logger:      log,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Monitor{
		cfg:        c,
		logger:     log,
		eng:        eng,
		rep:        rep,
		st:         st,
		disconnect: disconnectNotifier,
		last: server.Status{
			MachineID:   c.MachineID,
			ProcessName: c.ProcessName,
		},
	}, nil
}

func webhookOrNop(url string, log *slog.Logger) (notify.Notifier, error) {
	if url == "" {
		return notify.Nop{}, nil
	}
	return notify.NewWebhook(url, 10*time.Second, log)
}

// RunCycle executes one reconcile cycle. Concurrent calls are rejected
// with ErrBusy; cycles never overlap.
func (m *Monitor) RunCycle(ctx context.Context) (CycleResult, error) {
	if !m.cycleActive.CompareAndSwap(false, true) {
		return CycleResult{}, ErrBusy
	}
	defer m.cycleActive.Store(false)

	res, err := m.eng.RunCycle(ctx)
	m.recordCycle(res, err)
	if err != nil {
		return res, err
	}
	if len(res.Archived) > 0 {
		m.notifyDisconnects(ctx, res.Archived)
	}
	return res, nil
}

func (m *Monitor) notifyDisconnects(ctx context.Context, archived []Record) {
	text := notify.FormatDisconnects(archived)
	if err := m.disconnect.Send(ctx, text); err != nil {
		m.logger.Warn("disconnect notification delivery failed", "error", err)
	}
}

func (m *Monitor) recordCycle(res CycleResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last.LastCycleAt = time.Now()
	if err != nil {
		m.last.LastError = err.Error()
		return
	}
	m.last.LastError = ""
	m.last.Live = res.Live
	m.last.Archived = len(res.Archived)
	m.last.Created = res.Created
	m.last.Updated = res.Updated
	m.last.Failed = res.Failed
}

// StatusSummary sends a one-shot fleet status to the monitor channel.
func (m *Monitor) StatusSummary(ctx context.Context) error {
	return m.rep.StatusSummary(ctx)
}

// Status reports the monitor's state for the daemon API.
func (m *Monitor) Status() server.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.last
	st.CycleRunning = m.cycleActive.Load()
	return st
}

// TriggerCycle implements the daemon API's cycle trigger.
func (m *Monitor) TriggerCycle(ctx context.Context) (engine.Result, error) {
	return m.RunCycle(ctx)
}

// Start launches the reconcile and report schedules and, when enabled,
// the daemon HTTP server. Call Stop to shut everything down.
func (m *Monitor) Start() error {
	if m.sch != nil {
		return fmt.Errorf("monitor already started")
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	s := sched.New(m.logger)
	if err := s.Add(&sched.Job{
		Name:      "reconcile",
		Schedule:  m.cfg.Reconcile.Schedule,
		Singleton: true,
		Run: func(ctx context.Context) error {
			_, err := m.RunCycle(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	if err := s.Add(&sched.Job{
		Name:      "report",
		Schedule:  m.cfg.Report.Schedule,
		Singleton: true,
		Run: func(ctx context.Context) error {
			if err := m.rep.StatusSummary(ctx); err != nil {
				return err
			}
			return m.rep.CheckCountDrop(ctx)
		},
	}); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	m.sch = s

	if m.cfg.Server.Enabled {
		srv, err := server.NewServer(m.cfg.Server.Listen, m.cfg.Server.BasePath, m)
		if err != nil {
			s.Stop()
			m.sch = nil
			return err
		}
		m.httpSrv = srv
		m.logger.Info("daemon API listening", "addr", m.cfg.Server.Listen)
	}
	return nil
}

// Stop cancels the schedules and shuts down the HTTP server.
// In-flight cycles finish on their own.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.sch != nil {
		m.sch.Stop()
		m.sch = nil
	}
	if m.httpSrv != nil {
		if err := m.httpSrv.Shutdown(ctx); err != nil {
			return err
		}
		m.httpSrv = nil
	}
	return nil
}

// Close releases the record store.
func (m *Monitor) Close() error {
	return m.st.Close()
}

// Logger exposes the monitor's configured logger for the CLI.
func (m *Monitor) Logger() *slog.Logger {
	return m.logger
}
