//go:build !linux && !darwin && !windows

package host

import "github.com/avaropoint/deskrelay/internal/protocol"

func collectPlatformInfo(*protocol.HostInfo) {}
