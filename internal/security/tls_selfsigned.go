package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	caLifetime   = 10 * 365 * 24 * time.Hour
	leafLifetime = 2 * 365 * 24 * time.Hour
	// Reissue the relay certificate when it is this close to expiring.
	renewBefore = 30 * 24 * time.Hour
)

// RelayNames are the subject alternative names the relay certificate must
// carry so hosts and viewers can reach both listeners.
type RelayNames struct {
	DNS []string
	IPs []net.IP
}

// RelayNamesFor derives the certificate names from the listener addresses
// and the public domain. A wildcard or empty listen host means every local
// interface, so their addresses are added too.
func RelayNamesFor(domain string, listenAddrs ...string) RelayNames {
	n := RelayNames{DNS: []string{"localhost"}, IPs: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}}
	if hostname, err := os.Hostname(); err == nil {
		n.add(hostname)
	}
	n.add(domain)
	wildcard := len(listenAddrs) == 0
	for _, addr := range listenAddrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			wildcard = true
			continue
		}
		n.add(host)
	}
	if wildcard {
		for _, ip := range interfaceIPs() {
			n.add(ip.String())
		}
	}
	return n
}

func (n *RelayNames) add(name string) {
	if name == "" {
		return
	}
	if ip := net.ParseIP(name); ip != nil {
		if !slices.ContainsFunc(n.IPs, ip.Equal) {
			n.IPs = append(n.IPs, ip)
		}
		return
	}
	if !slices.Contains(n.DNS, name) {
		n.DNS = append(n.DNS, name)
	}
}

// covers reports whether cert is still valid for a while and names every
// required host.
func (n RelayNames) covers(cert *x509.Certificate) bool {
	if time.Until(cert.NotAfter) < renewBefore {
		return false
	}
	for _, name := range n.DNS {
		if !slices.Contains(cert.DNSNames, name) {
			return false
		}
	}
	for _, ip := range n.IPs {
		if !slices.ContainsFunc(cert.IPAddresses, ip.Equal) {
			return false
		}
	}
	return true
}

func interfaceIPs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []net.IP
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && !ipn.IP.IsLinkLocalUnicast() {
			out = append(out, ipn.IP)
		}
	}
	return out
}

// ensureRelayCert makes sure paths hold a CA and a relay certificate that
// covers names. The CA is kept across reissues so hosts that pinned it
// keep working; only a missing or unreadable CA is regenerated.
func ensureRelayCert(paths *TLSConfig, names RelayNames) (issued bool, err error) {
	if leaf, err := readCert(paths.CertPath); err == nil && fileExists(paths.KeyPath) && names.covers(leaf) {
		return false, nil
	}
	ca, caKey, err := loadCA(paths)
	if err != nil {
		if ca, caKey, err = issueCA(paths); err != nil {
			return false, fmt.Errorf("issue CA: %w", err)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return false, err
	}
	now := time.Now()
	der, err := x509.CreateCertificate(rand.Reader, &x509.Certificate{
		SerialNumber: newSerial(),
		Subject:      pkix.Name{Organization: []string{"Desk Relay"}, CommonName: "relay"},
		DNSNames:     names.DNS,
		IPAddresses:  names.IPs,
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, ca, key.Public(), caKey)
	if err != nil {
		return false, err
	}
	if err := writeKey(paths.KeyPath, key); err != nil {
		return false, err
	}
	return true, writePEM(paths.CertPath, "CERTIFICATE", der)
}

func issueCA(paths *TLSConfig) (*x509.Certificate, crypto.Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               pkix.Name{Organization: []string{"Desk Relay"}, CommonName: "Desk Relay Root CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caLifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, nil, err
	}
	ca, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	if err := writeKey(caKeyPath(paths), key); err != nil {
		return nil, nil, err
	}
	if err := writePEM(paths.CACertPath, "CERTIFICATE", der); err != nil {
		return nil, nil, err
	}
	return ca, key, nil
}

func caKeyPath(paths *TLSConfig) string {
	return filepath.Join(filepath.Dir(paths.CACertPath), "ca.key")
}

func loadCA(paths *TLSConfig) (*x509.Certificate, crypto.Signer, error) {
	ca, err := readCert(paths.CACertPath)
	if err != nil {
		return nil, nil, err
	}
	raw, err := readPEM(caKeyPath(paths), "PRIVATE KEY")
	if err != nil {
		return nil, nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok || time.Until(ca.NotAfter) < renewBefore {
		return nil, nil, fmt.Errorf("CA in %s unusable", paths.CACertPath)
	}
	return ca, signer, nil
}

func readCert(path string) (*x509.Certificate, error) {
	der, err := readPEM(path, "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

func readPEM(path, blockType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("%s: no %s block", path, blockType)
	}
	return block.Bytes, nil
}

func writeKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	return writePEM(path, "PRIVATE KEY", der)
}

// writePEM replaces path atomically with a 0600 file.
func writePEM(path, blockType string, der []byte) error {
	tmp := path + ".tmp"
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func newSerial() *big.Int {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	return serial
}
