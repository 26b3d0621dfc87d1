package host

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

func TestParseMonitorLine(t *testing.T) {
	cases := []struct {
		line string
		path string
		auto bool
		ok   bool
	}{
		{"monitor /tmp/in", "/tmp/in", false, true},
		{"  monitor /tmp/in --auto ", "/tmp/in", true, true},
		{"monitor --auto", "", true, false},
		{"ls -la", "", false, false},
	}
	for _, tc := range cases {
		path, auto, ok := parseMonitorLine(tc.line)
		if path != tc.path || auto != tc.auto || ok != tc.ok {
			t.Errorf("parseMonitorLine(%q) = %q %v %v", tc.line, path, auto, ok)
		}
	}
}

func TestRunShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	if out := RunShell(context.Background(), "echo hello"); strings.TrimSpace(out) != "hello" {
		t.Fatalf("output %q", out)
	}
	if out := RunShell(context.Background(), "exit 3"); out != "(exit: 3)" {
		t.Fatalf("output %q", out)
	}
}

func TestServiceNameRequired(t *testing.T) {
	res := ControlService(context.Background(), protocol.KindServiceRestart, "")
	if res.Action != "restart" || res.Error == "" || res.Success {
		t.Fatalf("result %+v", res)
	}
}

func TestStartProgramMissing(t *testing.T) {
	res := StartProgram(&protocol.ProgramRun{Path: "/definitely/not/here"})
	if res.Success || res.Error == "" {
		t.Fatalf("result %+v", res)
	}
}

func TestToScreen(t *testing.T) {
	c := toScreen(protocol.Control{Action: "mouse_move", X: 400, Y: 300}, 50)
	if c.X != 800 || c.Y != 600 {
		t.Fatalf("got %v,%v", c.X, c.Y)
	}
	c = toScreen(protocol.Control{X: 10, Y: 20}, 0)
	if c.X != 10 || c.Y != 20 {
		t.Fatalf("zero scale: %v,%v", c.X, c.Y)
	}
}

func TestInputArgs(t *testing.T) {
	args := xdotoolArgs(&protocol.Control{Action: "mouse_scroll", Delta: -3})
	if strings.Join(args[0], " ") != "xdotool click --repeat 3 5" {
		t.Fatalf("scroll args %v", args)
	}
	if args := xdotoolArgs(&protocol.Control{Action: "key_press", Key: "Enter"}); args[0][2] != "Return" {
		t.Fatalf("key args %v", args)
	}
	if got := escapeSendKeys(`a+b{"}`); got != `a{+}b{{}""{}}` {
		t.Fatalf("escaped %q", got)
	}
	if args := windowsArgs(&protocol.Control{Action: "unknown"}); args != nil {
		t.Fatal("unknown action produced a command")
	}
}
