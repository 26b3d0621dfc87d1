// Package host implements the host side of a relayed remote desktop
// session: the multi-socket transport manager, the adaptive screen stream
// and the chunked file transfer engine.
package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

var (
	ErrSessionEnded = errors.New("session ended")
	ErrNoLink       = errors.New("no open link")
	ErrCancelled    = errors.New("transfer cancelled")
)

// Relay ports used when only a base server address is configured.
const (
	DefaultControlPort   = 8080
	DefaultStreamingPort = 8081
)

// Config is the host configuration file. Unknown keys are ignored and
// missing keys keep their defaults.
type Config struct {
	Server          string `json:"server"`
	ControlServer   string `json:"control_server,omitempty"`
	StreamingServer string `json:"streaming_server,omitempty"`
	Room            string `json:"room"`
	Password        string `json:"password"`

	Quality int `json:"quality"`
	FPS     int `json:"fps"`
	Scale   int `json:"scale"`

	FileConnections   int `json:"file_connections"`
	ScreenConnections int `json:"screen_connections"`
	// Connections is the pre-split socket count, used when both role
	// counts are zero.
	Connections int `json:"connections"`

	ChunkSize  int64 `json:"chunk_size"`
	MaxFrameKB int   `json:"max_frame_kb"`
}

// DefaultConfig returns the settings written on first start.
func DefaultConfig() Config {
	return Config{
		Server:            "ws://localhost:8080/ws",
		Room:              "my_session",
		Quality:           70,
		FPS:               15,
		Scale:             80,
		FileConnections:   8,
		ScreenConnections: 1,
		Connections:       8,
		ChunkSize:         16 << 20,
		MaxFrameKB:        100,
	}
}

// LoadConfig merges the JSON file at path over the defaults. A missing
// file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LinkCounts returns the number of file and screen sockets to open.
func (c Config) LinkCounts() (files, screens int) {
	files = clamp(c.FileConnections, 0, 20)
	screens = clamp(c.ScreenConnections, 0, 20)
	if files == 0 && screens == 0 {
		return clamp(c.Connections, 1, 10), 1
	}
	return files, screens
}

// ControlURL is where the main link joins.
func (c Config) ControlURL() string {
	if s := strings.TrimSpace(c.ControlServer); s != "" {
		return s
	}
	if base := strings.TrimSpace(c.Server); base != "" {
		return withPort(base, DefaultControlPort)
	}
	return ""
}

// StreamingURL is where the file and screen links join.
func (c Config) StreamingURL() string {
	if s := strings.TrimSpace(c.StreamingServer); s != "" {
		return s
	}
	if base := strings.TrimSpace(c.Server); base != "" {
		return withPort(base, DefaultStreamingPort)
	}
	return c.ControlURL()
}

// Stream returns the hot-reloadable capture settings.
func (c Config) Stream() protocol.StreamSettings {
	return protocol.StreamSettings{Quality: c.Quality, FPS: c.FPS, Scale: c.Scale}
}

// MaxFrameBytes is the encoded frame ceiling.
func (c Config) MaxFrameBytes() int {
	if c.MaxFrameKB <= 0 {
		return 100 * 1024
	}
	return c.MaxFrameKB * 1024
}

// withPort replaces the port of base, defaulting the scheme to ws and the
// path to /ws. An unparsable base is returned unchanged.
func withPort(base string, port int) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	if u.Scheme == "" {
		u.Scheme = "ws"
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	return u.String()
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// Settings is the live configuration shared by the running session. Stream
// changes are persisted to path.
type Settings struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

func NewSettings(cfg Config, path string) *Settings {
	return &Settings{cfg: cfg, path: path}
}

func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Settings) Stream() protocol.StreamSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Stream()
}

// UpdateStream applies the in-range fields of p and saves the file when
// anything changed. Out-of-range values are ignored.
func (s *Settings) UpdateStream(p *protocol.SetStreamConfig) (protocol.StreamSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	set := func(dst *int, v *int, lo, hi int) {
		if v == nil || *v < lo || *v > hi || *dst == *v {
			return
		}
		*dst = *v
		changed = true
	}
	set(&s.cfg.Quality, p.Quality, 10, 100)
	set(&s.cfg.FPS, p.FPS, 1, 60)
	set(&s.cfg.Scale, p.Scale, 10, 100)

	if !changed || s.path == "" {
		return s.cfg.Stream(), changed, nil
	}
	return s.cfg.Stream(), true, s.cfg.Save(s.path)
}

// Timing holds the transport manager's intervals and tolerances.
type Timing struct {
	ConnectTimeout time.Duration
	// Pause before retrying when no link could be opened.
	NoLinkRetry time.Duration
	// Settle time between connecting and starting the session tasks.
	Stabilize time.Duration
	// The first main link drop inside this window is answered with one
	// rejoin instead of ending the session.
	GraceWindow time.Duration

	CheckInterval              time.Duration
	CheckIntervalAfterTransfer time.Duration
	// A transfer finished within this window relaxes the health checks.
	PostTransferWindow time.Duration
	PingTimeout        time.Duration
	PingTolerance      time.Duration

	ViewerTick    time.Duration
	ViewerTimeout time.Duration

	// Bounded wait for an in-flight download before closing the links.
	TransferDrain time.Duration

	ScreenSendTimeout              time.Duration
	ScreenSendTimeoutAfterTransfer time.Duration
	MaxSendErrors                  int
	MaxSendErrorsAfterTransfer     int
	// Ping the frame link when no frame left for this long.
	IdlePing       time.Duration
	FPSLogInterval time.Duration

	TextWriteTimeout time.Duration
	FileWriteTimeout time.Duration
}

// DefaultTiming returns production settings.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout:                 30 * time.Second,
		NoLinkRetry:                    5 * time.Second,
		Stabilize:                      3 * time.Second,
		GraceWindow:                    15 * time.Second,
		CheckInterval:                  5 * time.Second,
		CheckIntervalAfterTransfer:     15 * time.Second,
		PostTransferWindow:             30 * time.Second,
		PingTimeout:                    5 * time.Second,
		PingTolerance:                  60 * time.Second,
		ViewerTick:                     5 * time.Second,
		ViewerTimeout:                  120 * time.Second,
		TransferDrain:                  60 * time.Second,
		ScreenSendTimeout:              5 * time.Second,
		ScreenSendTimeoutAfterTransfer: 15 * time.Second,
		MaxSendErrors:                  5,
		MaxSendErrorsAfterTransfer:     10,
		IdlePing:                       2 * time.Second,
		FPSLogInterval:                 3 * time.Second,
		TextWriteTimeout:               10 * time.Second,
		FileWriteTimeout:               2 * time.Minute,
	}
}
