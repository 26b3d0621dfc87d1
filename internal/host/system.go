package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

const terminalTimeout = 60 * time.Second

// RunShell runs one terminal line through the system shell and returns
// its combined output, or the exit status when there was none.
func RunShell(ctx context.Context, line string) string {
	ctx, cancel := context.WithTimeout(ctx, terminalTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", line)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", line)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	out := decodeConsole(stdout.Bytes()) + decodeConsole(stderr.Bytes())
	if out != "" {
		return out
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return fmt.Sprintf("(exit: %d)", exitErr.ExitCode())
	case err != nil:
		return err.Error()
	}
	return "(exit: 0)"
}

// decodeConsole converts Windows console output (OEM code page 866) to
// UTF-8. Elsewhere output is already UTF-8.
func decodeConsole(b []byte) string {
	if runtime.GOOS != "windows" || len(b) == 0 {
		return string(b)
	}
	out, err := charmap.CodePage866.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// parseMonitorLine recognizes "monitor <path> [--auto]".
func parseMonitorLine(line string) (path string, auto, ok bool) {
	line = strings.TrimSpace(line)
	rest, found := strings.CutPrefix(line, "monitor ")
	if !found {
		return "", false, false
	}
	auto = strings.Contains(rest, "--auto")
	path = strings.TrimSpace(strings.ReplaceAll(rest, "--auto", ""))
	return path, auto, path != ""
}

// ControlService starts, stops or restarts a system service.
func ControlService(ctx context.Context, action protocol.Kind, name string) *protocol.ServiceResult {
	verb := strings.TrimPrefix(string(action), "service_")
	res := &protocol.ServiceResult{Action: verb, Name: name}
	if name == "" {
		res.Error = "service name required"
		return res
	}

	var out string
	var err error
	if runtime.GOOS == "windows" {
		out, err = windowsService(ctx, verb, name)
	} else {
		out, err = runOutput(ctx, "systemctl", verb, name)
	}
	res.Success = err == nil
	switch {
	case out != "":
		res.Message = out
	case err != nil:
		res.Message = err.Error()
	default:
		res.Message = "Success"
	}
	return res
}

func windowsService(ctx context.Context, verb, name string) (string, error) {
	if verb == "restart" {
		runOutput(ctx, "net", "stop", name) //nolint:errcheck
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		verb = "start"
	}
	out, err := runOutput(ctx, "net", verb, name)
	lower := strings.ToLower(out)
	if err != nil && (strings.Contains(lower, "already started") || strings.Contains(lower, "not started")) {
		err = nil
	}
	return out, err
}

func runOutput(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	s := strings.TrimSpace(decodeConsole(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && s == "" {
			s = fmt.Sprintf("Exit code: %d", exitErr.ExitCode())
		}
		return s, err
	}
	return s, nil
}

// StartProgram launches path detached from the host and does not wait.
func StartProgram(req *protocol.ProgramRun) *protocol.ProgramResult {
	cmd := exec.Command(req.Path, req.Args...)
	cmd.Dir = req.WorkingDir
	if err := cmd.Start(); err != nil {
		return &protocol.ProgramResult{Path: req.Path, Error: err.Error()}
	}
	go cmd.Wait() //nolint:errcheck
	return &protocol.ProgramResult{Success: true, Path: req.Path}
}
