//go:build darwin

package host

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

func collectPlatformInfo(info *protocol.HostInfo) {
	info.OSVersion = macOSVersion()
	info.MemoryTotal = sysctlUint64("hw.memsize")
	info.UptimeSeconds = macOSUptime()
}

// macOSVersion returns a string like "macOS 15.2".
func macOSVersion() string {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return "macOS"
	}
	return "macOS " + strings.TrimSpace(string(out))
}

// macOSUptime parses kern.boottime: "{ sec = 1707100000, usec = 0 } ...".
func macOSUptime() int64 {
	out, err := exec.Command("sysctl", "-n", "kern.boottime").Output()
	if err != nil {
		return 0
	}
	_, s, ok := strings.Cut(string(out), "sec = ")
	if !ok {
		return 0
	}
	s, _, ok = strings.Cut(s, ",")
	if !ok {
		return 0
	}
	bootSec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return bootTimeToUptime(bootSec)
}

// sysctlUint64 uses the sysctl CLI; syscall.Sysctl strips trailing NUL
// bytes from binary values such as hw.memsize.
func sysctlUint64(name string) uint64 {
	out, err := exec.Command("sysctl", "-n", name).Output()
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	return v
}
