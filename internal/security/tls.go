package security

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// TLSConfig holds the paths to the CA and relay certificate files.
type TLSConfig struct {
	CACertPath string
	CertPath   string
	KeyPath    string
}

// TLSMode describes how the relay should handle TLS.
type TLSMode int

const (
	// TLSModeOff serves plain ws:// (a fronting proxy terminates TLS).
	TLSModeOff TLSMode = iota
	// TLSModeSelfSigned uses an auto-generated CA and relay certificate.
	TLSModeSelfSigned
	// TLSModeACME uses Let's Encrypt automatic certificate management.
	TLSModeACME
	// TLSModeCustom uses user-provided certificate and key files.
	TLSModeCustom
)

func (m TLSMode) String() string {
	switch m {
	case TLSModeSelfSigned:
		return "self-signed"
	case TLSModeACME:
		return "acme"
	case TLSModeCustom:
		return "custom"
	}
	return "off"
}

// ParseTLSMode maps the -tls flag value to a mode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch s {
	case "", "off", "none":
		return TLSModeOff, nil
	case "self-signed", "selfsigned":
		return TLSModeSelfSigned, nil
	case "acme", "letsencrypt":
		return TLSModeACME, nil
	case "custom":
		return TLSModeCustom, nil
	}
	return TLSModeOff, fmt.Errorf("unknown TLS mode %q (off, self-signed, acme, custom)", s)
}

// TLSOptions are the inputs SetupTLS needs for each mode.
type TLSOptions struct {
	Mode     TLSMode
	DataDir  string
	Domain   string // acme; also added to self-signed SANs
	// ListenAddrs are the control and streaming listener addresses the
	// self-signed certificate must cover.
	ListenAddrs []string
	CertFile string // custom
	KeyFile  string // custom
}

// TLSResult holds the outcome of TLS setup, including the config and
// any ACME manager that needs to be wired into the HTTP server.
type TLSResult struct {
	Config      *tls.Config
	Paths       *TLSConfig        // self-signed only
	ACMEManager *autocert.Manager // non-nil only for ACME mode
	Mode        TLSMode
}

// SetupTLS builds the server TLS configuration for opts.Mode. It returns
// nil, nil for TLSModeOff.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	switch opts.Mode {
	case TLSModeOff:
		return nil, nil
	case TLSModeSelfSigned:
		cfg, paths, err := LoadOrGenerateTLS(opts.DataDir, RelayNamesFor(opts.Domain, opts.ListenAddrs...))
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, Paths: paths, Mode: opts.Mode}, nil
	case TLSModeACME:
		if opts.Domain == "" {
			return nil, fmt.Errorf("acme mode requires a domain")
		}
		manager, cfg := NewACMEManager(opts.DataDir, opts.Domain)
		return &TLSResult{Config: cfg, ACMEManager: manager, Mode: opts.Mode}, nil
	case TLSModeCustom:
		cfg, err := LoadCustomTLS(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, Mode: opts.Mode}, nil
	}
	return nil, fmt.Errorf("unsupported TLS mode %d", opts.Mode)
}

// LoadOrGenerateTLS loads the self-signed relay certificate from dataDir,
// reissuing it when it is missing, near expiry or lacks one of names.
func LoadOrGenerateTLS(dataDir string, names RelayNames) (*tls.Config, *TLSConfig, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	paths := &TLSConfig{
		CACertPath: filepath.Join(dataDir, "ca.crt"),
		CertPath:   filepath.Join(dataDir, "relay.crt"),
		KeyPath:    filepath.Join(dataDir, "relay.key"),
	}

	issued, err := ensureRelayCert(paths, names)
	if err != nil {
		return nil, nil, fmt.Errorf("relay certificate: %w", err)
	}
	if issued {
		log.Printf("Issued relay certificate for %v %v", names.DNS, names.IPs)
	}

	cert, err := tls.LoadX509KeyPair(paths.CertPath, paths.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, paths, nil
}

// LoadCustomTLS loads user-provided certificate and key files.
func LoadCustomTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("custom TLS needs both -cert and -key")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load custom TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ReadCACert returns the PEM-encoded CA certificate hosts can pin.
func ReadCACert(paths *TLSConfig) ([]byte, error) {
	return os.ReadFile(paths.CACertPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
