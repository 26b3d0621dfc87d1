package host

import (
	"bufio"
	"io"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
	"github.com/avaropoint/deskrelay/internal/version"
)

// CollectHostInfo fills the host panel the viewer shows next to the
// stream settings. Platform fields that cannot be read stay empty.
func CollectHostInfo() protocol.HostInfo {
	info := protocol.HostInfo{
		Hostname: "unknown",
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCount: runtime.NumCPU(),
		Version:  version.Version,
		LocalIPs: localIPs(),
	}
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	}
	collectPlatformInfo(&info)
	return info
}

// localIPs lists the addresses a viewer on the LAN could reach the host
// on, IPv4 first.
func localIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var v4, v6 []string
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() || ipn.IP.IsLinkLocalUnicast() {
			continue
		}
		if ipn.IP.To4() != nil {
			v4 = append(v4, ipn.IP.String())
		} else {
			v6 = append(v6, ipn.IP.String())
		}
	}
	return append(v4, v6...)
}

// parseFields reads "key<sep>value" lines, trimming spaces and quotes
// from values. Lines without sep are skipped.
func parseFields(r io.Reader, sep string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), sep)
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return out
}

// bootTimeToUptime converts a boot Unix timestamp (seconds) to uptime.
func bootTimeToUptime(bootEpoch int64) int64 {
	return time.Now().Unix() - bootEpoch
}
