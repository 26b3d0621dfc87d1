package host

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Injector replays viewer mouse and keyboard actions on the host desktop.
// Coordinates are already in screen pixels.
type Injector interface {
	Inject(c *protocol.Control) error
}

// SystemInjector drives the platform input tools: xdotool on Linux,
// cliclick and osascript on macOS, PowerShell on Windows.
type SystemInjector struct {
	once      sync.Once
	available bool
}

func NewSystemInjector() *SystemInjector {
	return &SystemInjector{}
}

func (s *SystemInjector) detect() {
	var tool, hint string
	switch runtime.GOOS {
	case "linux":
		tool, hint = "xdotool", "sudo apt install xdotool"
	case "darwin":
		tool, hint = "cliclick", "brew install cliclick"
	case "windows":
		tool = "powershell"
	default:
		log.Printf("Input injection not supported on %s", runtime.GOOS)
		return
	}
	if _, err := exec.LookPath(tool); err != nil {
		log.Printf("WARNING: %s not found. Install with: %s", tool, hint)
		return
	}
	log.Printf("Input control: %s found", tool)
	s.available = true
}

func (s *SystemInjector) Inject(c *protocol.Control) error {
	s.once.Do(s.detect)
	if !s.available {
		return nil
	}
	var cmds [][]string
	switch runtime.GOOS {
	case "linux":
		cmds = xdotoolArgs(c)
	case "darwin":
		cmds = darwinArgs(c)
	case "windows":
		cmds = windowsArgs(c)
	}
	for _, args := range cmds {
		if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
			return fmt.Errorf("%s %s: %v (%s)", args[0], c.Action, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func itoa(f float64) string { return strconv.Itoa(int(f)) }

// xdotoolButton maps a button name to an X11 button number.
func xdotoolButton(name string) string {
	switch name {
	case "right":
		return "3"
	case "middle":
		return "2"
	}
	return "1"
}

// xdotoolKey maps browser-style key names onto X keysyms.
func xdotoolKey(key string) string {
	switch key {
	case "Enter", "enter":
		return "Return"
	case "Backspace", "backspace":
		return "BackSpace"
	case "ArrowUp", "up":
		return "Up"
	case "ArrowDown", "down":
		return "Down"
	case "ArrowLeft", "left":
		return "Left"
	case "ArrowRight", "right":
		return "Right"
	case "Escape", "esc", "escape":
		return "Escape"
	case "Tab", "tab":
		return "Tab"
	case " ", "space":
		return "space"
	}
	return key
}

func xdotoolArgs(c *protocol.Control) [][]string {
	switch c.Action {
	case "mouse_move":
		return [][]string{{"xdotool", "mousemove", itoa(c.X), itoa(c.Y)}}
	case "mouse_click":
		return [][]string{{"xdotool", "click", xdotoolButton(c.Button)}}
	case "mouse_double":
		return [][]string{{"xdotool", "click", "--repeat", "2", "1"}}
	case "mouse_scroll":
		if c.Delta == 0 {
			return nil
		}
		button, n := "4", c.Delta
		if n < 0 {
			button, n = "5", -n
		}
		return [][]string{{"xdotool", "click", "--repeat", strconv.Itoa(n), button}}
	case "key_press":
		return [][]string{{"xdotool", "key", xdotoolKey(c.Key)}}
	case "key_type":
		return [][]string{{"xdotool", "type", "--delay", "10", c.Text}}
	}
	return nil
}

// macOS key codes for the named keys osascript cannot type.
var darwinKeyCodes = map[string]int{
	"Enter": 36, "enter": 36,
	"Tab": 48, "tab": 48,
	"Backspace": 51, "backspace": 51,
	"Escape": 53, "esc": 53, "escape": 53,
	"ArrowUp": 126, "up": 126,
	"ArrowDown": 125, "down": 125,
	"ArrowLeft": 123, "left": 123,
	"ArrowRight": 124, "right": 124,
	" ": 49, "space": 49,
}

func darwinArgs(c *protocol.Control) [][]string {
	switch c.Action {
	case "mouse_move":
		return [][]string{{"cliclick", "m:" + itoa(c.X) + "," + itoa(c.Y)}}
	case "mouse_click":
		if c.Button == "right" {
			return [][]string{{"cliclick", "rc:."}}
		}
		return [][]string{{"cliclick", "c:."}}
	case "mouse_double":
		return [][]string{{"cliclick", "dc:."}}
	case "mouse_scroll":
		script := fmt.Sprintf(`tell application "System Events" to scroll (%d)`, c.Delta)
		return [][]string{{"osascript", "-e", script}}
	case "key_press":
		if code, ok := darwinKeyCodes[c.Key]; ok {
			return [][]string{{"osascript", "-e", fmt.Sprintf(`tell application "System Events" to key code %d`, code)}}
		}
		return [][]string{{"osascript", "-e", fmt.Sprintf(`tell application "System Events" to keystroke %q`, c.Key)}}
	case "key_type":
		return [][]string{{"osascript", "-e", fmt.Sprintf(`tell application "System Events" to keystroke %q`, c.Text)}}
	}
	return nil
}

// windowsMouseEvent is a PowerShell snippet that calls user32 mouse_event.
const windowsMouseEvent = `$signature = @"
[DllImport("user32.dll")]
public static extern void mouse_event(int dwFlags, int dx, int dy, int dwData, int dwExtraInfo);
"@
$mouse = Add-Type -MemberDefinition $signature -Name "MouseEvent" -Namespace "Win32" -PassThru
`

// SendKeys names for the special keys.
var windowsKeys = map[string]string{
	"Enter": "{ENTER}", "enter": "{ENTER}",
	"Tab": "{TAB}", "tab": "{TAB}",
	"Backspace": "{BACKSPACE}", "backspace": "{BACKSPACE}",
	"Escape": "{ESC}", "esc": "{ESC}", "escape": "{ESC}",
	"ArrowUp": "{UP}", "up": "{UP}",
	"ArrowDown": "{DOWN}", "down": "{DOWN}",
	"ArrowLeft": "{LEFT}", "left": "{LEFT}",
	"ArrowRight": "{RIGHT}", "right": "{RIGHT}",
	"space": " ",
}

// escapeSendKeys brace-quotes the characters SendKeys treats specially.
func escapeSendKeys(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '+', '^', '%', '~', '(', ')', '{', '}', '[', ']':
			b.WriteString("{" + string(r) + "}")
		case '"':
			b.WriteString(`""`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func windowsArgs(c *protocol.Control) [][]string {
	var ps string
	switch c.Action {
	case "mouse_move":
		ps = fmt.Sprintf("Add-Type -AssemblyName System.Windows.Forms\n[System.Windows.Forms.Cursor]::Position = New-Object System.Drawing.Point(%d, %d)", int(c.X), int(c.Y))
	case "mouse_click":
		down, up := "0x0002", "0x0004"
		switch c.Button {
		case "right":
			down, up = "0x0008", "0x0010"
		case "middle":
			down, up = "0x0020", "0x0040"
		}
		ps = windowsMouseEvent + fmt.Sprintf("$mouse::mouse_event(%s, 0, 0, 0, 0)\n$mouse::mouse_event(%s, 0, 0, 0, 0)", down, up)
	case "mouse_double":
		ps = windowsMouseEvent + strings.Repeat("$mouse::mouse_event(0x0002, 0, 0, 0, 0)\n$mouse::mouse_event(0x0004, 0, 0, 0, 0)\n", 2)
	case "mouse_scroll":
		ps = windowsMouseEvent + fmt.Sprintf("$mouse::mouse_event(0x0800, 0, 0, %d, 0)", c.Delta*120)
	case "key_press":
		key, ok := windowsKeys[c.Key]
		if !ok {
			key = escapeSendKeys(c.Key)
		}
		ps = fmt.Sprintf("Add-Type -AssemblyName System.Windows.Forms\n[System.Windows.Forms.SendKeys]::SendWait(\"%s\")", key)
	case "key_type":
		ps = fmt.Sprintf("Add-Type -AssemblyName System.Windows.Forms\n[System.Windows.Forms.SendKeys]::SendWait(\"%s\")", escapeSendKeys(c.Text))
	default:
		return nil
	}
	return [][]string{{"powershell", "-NoProfile", "-Command", ps}}
}

// toScreen converts viewer coordinates, which are in the scaled frame,
// back to screen pixels.
func toScreen(c protocol.Control, scale int) *protocol.Control {
	if scale <= 0 {
		scale = 100
	}
	f := float64(scale) / 100
	c.X /= f
	c.Y /= f
	return &c
}
