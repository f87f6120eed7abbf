// Package report produces periodic fleet status summaries and
// detects drops in the live process count between observations.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/fleetmon/internal/enumerator"
	"github.com/loykin/fleetmon/internal/notify"
)

// Reporter observes the live process set and pushes human-readable
// summaries to a notifier channel. It keeps the last observed count
// so CheckCountDrop can compare across invocations.
type Reporter struct {
	processName string
	enum        enumerator.Enumerator
	monitor     notify.Notifier
	disconnect  notify.Notifier
	logger      *slog.Logger

	mu        sync.Mutex
	prevCount int
	seen      bool
}

type Config struct {
	ProcessName string
	Enumerator  enumerator.Enumerator
	// Monitor receives periodic status summaries.
	Monitor notify.Notifier
	// Disconnect receives count-drop alerts. May equal Monitor.
	Disconnect notify.Notifier
	Logger     *slog.Logger
}

func New(cfg Config) (*Reporter, error) {
	if cfg.Enumerator == nil {
		return nil, fmt.Errorf("report: enumerator is required")
	}
	if cfg.Monitor == nil {
		cfg.Monitor = notify.Nop{}
	}
	if cfg.Disconnect == nil {
		cfg.Disconnect = cfg.Monitor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		processName: cfg.ProcessName,
		enum:        cfg.Enumerator,
		monitor:     cfg.Monitor,
		disconnect:  cfg.Disconnect,
		logger:      cfg.Logger,
	}, nil
}

// StatusSummary enumerates the live processes and sends a one-line
// summary with the instance count and summed CPU usage.
func (r *Reporter) StatusSummary(ctx context.Context) error {
	procs, err := r.enum.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("report: snapshot: %w", err)
	}
	var cpu float64
	for _, p := range procs {
		cpu += p.CPUPercent
	}
	text := fmt.Sprintf("%s status: %d instance(s) running, total CPU %.1f%%", r.processName, len(procs), cpu)
	if err := r.monitor.Send(ctx, text); err != nil {
		r.logger.Warn("status summary delivery failed", "error", err)
	}
	return nil
}

// CheckCountDrop compares the current live count against the previous
// observation and alerts when it decreased. The first observation only
// seeds the baseline.
func (r *Reporter) CheckCountDrop(ctx context.Context) error {
	procs, err := r.enum.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("report: snapshot: %w", err)
	}
	count := len(procs)

	r.mu.Lock()
	prev, seen := r.prevCount, r.seen
	r.prevCount = count
	r.seen = true
	r.mu.Unlock()

	if !seen || count >= prev {
		return nil
	}
	text := notify.FormatCountDrop(r.processName, prev, count)
	r.logger.Info("process count drop detected", "before", prev, "now", count)
	if err := r.disconnect.Send(ctx, text); err != nil {
		r.logger.Warn("count drop alert delivery failed", "error", err)
	}
	return nil
}
