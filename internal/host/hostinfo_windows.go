//go:build windows

package host

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

func collectPlatformInfo(info *protocol.HostInfo) {
	info.OSVersion = windowsOSVersion()
	info.MemoryTotal = windowsMemTotal()
	info.UptimeSeconds = windowsUptime()
}

func powershell(script string) string {
	out, err := exec.Command("powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func windowsOSVersion() string {
	if v := powershell("(Get-CimInstance Win32_OperatingSystem).Caption"); v != "" {
		return v
	}
	return "Windows"
}

// windowsMemTotal reads TotalVisibleMemorySize, which WMI reports in kB.
func windowsMemTotal() uint64 {
	kb, _ := strconv.ParseUint(powershell("(Get-CimInstance Win32_OperatingSystem).TotalVisibleMemorySize"), 10, 64)
	return kb * 1024
}

func windowsUptime() int64 {
	sec, _ := strconv.ParseInt(powershell(
		"([int](Get-CimInstance Win32_OperatingSystem).LastBootUpTime.Subtract((Get-Date)).TotalSeconds) * -1"), 10, 64)
	return sec
}
