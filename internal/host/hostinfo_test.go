package host

import (
	"net"
	"runtime"
	"strings"
	"testing"
)

func TestParseFields(t *testing.T) {
	osRelease := "NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\n# comment\nID=ubuntu\n"
	f := parseFields(strings.NewReader(osRelease), "=")
	if f["PRETTY_NAME"] != "Ubuntu 24.04 LTS" || f["ID"] != "ubuntu" {
		t.Fatalf("fields = %v", f)
	}
	if _, ok := f["# comment"]; ok {
		t.Fatal("line without separator parsed")
	}
}

func TestCollectHostInfo(t *testing.T) {
	info := CollectHostInfo()
	if info.Hostname == "" || info.OS != runtime.GOOS || info.Arch != runtime.GOARCH || info.CPUCount < 1 {
		t.Fatalf("info = %+v", info)
	}
	for _, s := range info.LocalIPs {
		ip := net.ParseIP(s)
		if ip == nil || ip.IsLoopback() {
			t.Fatalf("bad local IP %q", s)
		}
	}
}
