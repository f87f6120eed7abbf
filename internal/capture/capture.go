package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrCapture marks a failed screenshot attempt. The engine drops the
// affected pid for the rest of the cycle and retries next cycle.
var ErrCapture = errors.New("capture failed")

// Gateway produces a screenshot for one live process and returns the
// path of the written image.
type Gateway interface {
	Capture(ctx context.Context, pid string) (string, error)
}

// CommandGateway shells out to an external capture helper (reference
// deployment: a PowerShell script that focuses the client window,
// grabs it, and hides it again). The helper writes <dir>/<pid>.png.
//
// The command template may reference {pid} and {dir}. Invocations are
// serialized: the helper manipulates window focus, so only one
// capture can run at a time even though the rest of the per-pid
// pipeline is concurrent.
type CommandGateway struct {
	template string
	dir      string
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex
}

func NewCommandGateway(template, screenshotsDir string, timeout time.Duration, logger *slog.Logger) (*CommandGateway, error) {
	if strings.TrimSpace(template) == "" {
		return nil, errors.New("capture command template is empty")
	}
	if strings.TrimSpace(screenshotsDir) == "" {
		return nil, errors.New("screenshots dir is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandGateway{template: template, dir: screenshotsDir, timeout: timeout, logger: logger}, nil
}

// Render expands the {pid}/{dir} placeholders in the command template.
func (g *CommandGateway) Render(pid string) string {
	s := strings.ReplaceAll(g.template, "{pid}", pid)
	return strings.ReplaceAll(s, "{dir}", g.dir)
}

// ImagePath returns where the helper is expected to write the
// screenshot for pid.
func (g *CommandGateway) ImagePath(pid string) string {
	return filepath.Join(g.dir, pid+".png")
}

func (g *CommandGateway) Capture(ctx context.Context, pid string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmdStr := g.Render(pid)
	cmd := buildCommand(ctx, cmdStr)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("%w: pid %s: helper exited with %d: %s", ErrCapture, pid, ee.ExitCode(), firstLine(out))
		}
		return "", fmt.Errorf("%w: pid %s: %v", ErrCapture, pid, err)
	}
	path := g.ImagePath(pid)
	g.logger.Debug("captured screenshot", "pid", pid, "path", path)
	return path, nil
}

// buildCommand constructs an *exec.Cmd for the rendered helper
// command. Avoids invoking a shell unless obvious shell
// metacharacters are present (G204 mitigation).
func buildCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.CommandContext(ctx, name, args...)
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
