package device

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Restarter ends the current process. Implementations do not return in
// production; test doubles may.
type Restarter interface {
	Restart(reason string)
}

const exitCodeRestart = 3

type ExitRestarter struct {
	logger *slog.Logger
	exit   func(int)
}

func NewExitRestarter(logger *slog.Logger) *ExitRestarter {
	return &ExitRestarter{logger: logger, exit: os.Exit}
}

func (r *ExitRestarter) Restart(reason string) {
	r.logger.Error("restarting device", "reason", reason, "exit_code", exitCodeRestart)
	r.exit(exitCodeRestart)
}

// CommandRestarter runs a reboot command, then exits in case the command
// returned without taking the system down.
type CommandRestarter struct {
	logger  *slog.Logger
	command string
	timeout time.Duration
	exit    func(int)
}

func NewCommandRestarter(command string, logger *slog.Logger) *CommandRestarter {
	return &CommandRestarter{logger: logger, command: command, timeout: 10 * time.Second, exit: os.Exit}
}

func (r *CommandRestarter) Restart(reason string) {
	r.logger.Error("restarting device", "reason", reason, "command", r.command)
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if out, err := exec.CommandContext(ctx, "/bin/sh", "-c", r.command).CombinedOutput(); err != nil {
		r.logger.Error("restart command failed", "error", err, "output", string(out))
	}
	r.exit(exitCodeRestart)
}
