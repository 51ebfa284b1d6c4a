package link

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"
)

// Station is the wireless interface the monitor keeps associated.
type Station interface {
	Connected(ctx context.Context) bool
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// CommandStation probes reachability with a TCP dial and drives association
// through shell commands such as nmcli or wpa_cli.
type CommandStation struct {
	probeAddr         string
	probeTimeout      time.Duration
	connectCommand    string
	disconnectCommand string
	commandTimeout    time.Duration
	dial              func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewCommandStation(probeAddr string, probeTimeout time.Duration, connectCmd, disconnectCmd string, commandTimeout time.Duration) *CommandStation {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	if commandTimeout <= 0 {
		commandTimeout = 3 * time.Second
	}
	d := &net.Dialer{}
	return &CommandStation{
		probeAddr:         probeAddr,
		probeTimeout:      probeTimeout,
		connectCommand:    connectCmd,
		disconnectCommand: disconnectCmd,
		commandTimeout:    commandTimeout,
		dial:              d.DialContext,
	}
}

func (s *CommandStation) Connected(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	conn, err := s.dial(pctx, "tcp", s.probeAddr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (s *CommandStation) Connect(ctx context.Context) error {
	return s.run(ctx, s.connectCommand)
}

func (s *CommandStation) Disconnect(ctx context.Context) error {
	return s.run(ctx, s.disconnectCommand)
}

func (s *CommandStation) run(ctx context.Context, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(cctx, "/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w (%s)", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
