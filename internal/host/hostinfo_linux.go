//go:build linux

package host

import (
	"os"
	"syscall"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

func collectPlatformInfo(info *protocol.HostInfo) {
	info.OSVersion = "Linux"
	if f, err := os.Open("/etc/os-release"); err == nil {
		if name := parseFields(f, "=")["PRETTY_NAME"]; name != "" {
			info.OSVersion = name
		}
		f.Close()
	}
	var si syscall.Sysinfo_t
	if err := syscall.Sysinfo(&si); err == nil {
		info.MemoryTotal = uint64(si.Totalram) * uint64(si.Unit)
		info.UptimeSeconds = int64(si.Uptime)
	}
}
