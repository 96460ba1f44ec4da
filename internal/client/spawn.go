package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ExecSpawner starts executable (this binary when empty) as a detached
// server with the legacy "-pipename:<name>" argument followed by extra.
// tempDir is exported as TMPDIR so both sides agree on the socket location.
func ExecSpawner(executable, tempDir string, extra ...string) SpawnFunc {
	return func(_ context.Context, pipeName string) error {
		exe := executable
		if exe == "" {
			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate host executable: %w", err)
			}
			exe = self
		}
		args := append([]string{"-pipename:" + pipeName}, extra...)
		// The server outlives this call, so it is not bound to ctx.
		cmd := exec.Command(exe, args...)
		cmd.Env = append(os.Environ(), "TMPDIR="+tempDir)
		cmd.SysProcAttr = detached()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", exe, err)
		}
		go func() { _ = cmd.Wait() }()
		return nil
	}
}
