//go:build windows

package capture

import (
	"context"
	"os/exec"
)

// shellCommand returns a shell command for Windows systems
func shellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "cmd", "/c", script)
}
