package enumerator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Proc is one live OS process matching the configured client name.
type Proc struct {
	PID        int32
	Name       string
	CPUPercent float64
}

// ID returns the string form of the pid used as the record key.
func (p Proc) ID() string { return strconv.Itoa(int(p.PID)) }

// Enumerator produces the snapshot of live game-client processes for
// one poll cycle. Implementations must be safe for concurrent use.
type Enumerator interface {
	// Snapshot lists every live process whose name matches the
	// configured client process name.
	Snapshot(ctx context.Context) ([]Proc, error)
}

// Gopsutil enumerates processes via the OS process table. Name
// matching is exact but case-insensitive, so "main.exe" matches
// "Main.exe" on Windows-style process tables.
type Gopsutil struct {
	name   string
	logger *slog.Logger
}

func NewGopsutil(processName string, logger *slog.Logger) *Gopsutil {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gopsutil{name: processName, logger: logger}
}

func (g *Gopsutil) Snapshot(ctx context.Context) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var out []Proc
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes can exit between listing and inspection.
			continue
		}
		if !strings.EqualFold(name, g.name) {
			continue
		}
		// CPU usage is informational (status summaries); a failed read
		// must not drop the process from the snapshot.
		cpu, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			g.logger.Debug("cpu percent unavailable", "pid", p.Pid, "error", err)
			cpu = 0
		}
		out = append(out, Proc{PID: p.Pid, Name: name, CPUPercent: cpu})
	}
	return out, nil
}

// IDs maps a snapshot to the set of string process ids.
func IDs(procs []Proc) []string {
	ids := make([]string, 0, len(procs))
	for _, p := range procs {
		ids = append(ids, p.ID())
	}
	return ids
}
