package discovery

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mkotake/fleetview/internal/model"
)

// Runner executes an OS command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

const scanTimeout = 3 * time.Second

// ProcessScanner discovers servers by enumerating local processes whose
// command line matches Command and "serve", then resolving each match's
// working directory and listening TCP port through lsof.
type ProcessScanner struct {
	runner  Runner
	command string
}

func NewProcessScanner(command string) *ProcessScanner {
	return &ProcessScanner{runner: OSRunner{}, command: command}
}

func NewProcessScannerWithRunner(command string, runner Runner) *ProcessScanner {
	s := NewProcessScanner(command)
	if runner != nil {
		s.runner = runner
	}
	return s
}

func (s *ProcessScanner) Discover(ctx context.Context) ([]model.ServerInfo, error) {
	runCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	out, err := s.runner.Run(runCtx, "ps", "-eo", "pid=,args=")
	if err != nil {
		return nil, err
	}

	servers := make([]model.ServerInfo, 0, 4)
	for _, line := range strings.Split(string(out), "\n") {
		pid, args, ok := splitPSLine(line)
		if !ok {
			continue
		}
		if !matchesServeCommand(args, s.command) {
			continue
		}
		info, ok := s.inspect(runCtx, pid)
		if !ok {
			continue
		}
		servers = append(servers, info)
	}
	return servers, nil
}

// inspect resolves the working directory and listening port for one PID in a
// single lsof invocation. Processes that are not listening yet are skipped.
func (s *ProcessScanner) inspect(ctx context.Context, pid int) (model.ServerInfo, bool) {
	out, err := s.runner.Run(ctx, "lsof",
		"-nP", "-a", "-p", strconv.Itoa(pid),
		"-d", "cwd", "-i", "TCP", "-sTCP:LISTEN", "-Fn")
	if err != nil {
		// lsof exits non-zero when either filter matches nothing
		return model.ServerInfo{}, false
	}

	info := model.ServerInfo{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "n") {
			continue
		}
		name := line[1:]
		if strings.HasPrefix(name, "/") {
			if info.Directory == "" {
				info.Directory = name
			}
			continue
		}
		if port, ok := parseListenPort(name); ok && info.Port == 0 {
			info.Port = port
		}
	}
	if info.Port == 0 || info.Directory == "" {
		return model.ServerInfo{}, false
	}
	return info, true
}

func splitPSLine(line string) (pid int, args string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, "", false
	}
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, "", false
	}
	return pid, strings.TrimSpace(fields[1]), true
}

func matchesServeCommand(args, command string) bool {
	if command == "" {
		return false
	}
	if !strings.Contains(args, command) {
		return false
	}
	for _, field := range strings.Fields(args) {
		if field == "serve" {
			return true
		}
	}
	return false
}

// parseListenPort extracts the port from an lsof network name such as
// "*:4096" or "127.0.0.1:4096".
func parseListenPort(name string) (int, bool) {
	idx := strings.LastIndex(name, ":")
	if idx < 0 || idx == len(name)-1 {
		return 0, false
	}
	port, err := strconv.Atoi(name[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
