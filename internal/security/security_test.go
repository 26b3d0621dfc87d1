package security

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestHashPasswordKnownVector(t *testing.T) {
	// sha256("test")
	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := HashPassword("test"); got != want {
		t.Fatalf("hash = %s", got)
	}
	if !VerifyPassword("test", strings.ToUpper(want)) {
		t.Fatal("verify should be case-insensitive on the stored hash")
	}
	if VerifyPassword("Test", want) {
		t.Fatal("wrong password accepted")
	}
	if !ValidHash(want) || ValidHash("abc") {
		t.Fatal("ValidHash wrong")
	}
}

func TestGenerateRoomPassword(t *testing.T) {
	pw, hash, err := GenerateRoomPassword()
	if err != nil {
		t.Fatal(err)
	}
	if len(pw) != RoomPasswordLength+RoomPasswordLength/4-1 {
		t.Fatalf("unexpected password %q", pw)
	}
	if strings.ContainsAny(pw, "O0I1L") {
		t.Fatalf("ambiguous characters in %q", pw)
	}
	if !VerifyPassword(pw, hash) {
		t.Fatal("generated hash does not verify")
	}
}

func TestAdminGuard(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }

	open := NewAdminGuard("")
	if open.Enabled() || !open.Allow("anything") {
		t.Fatal("empty key must allow all")
	}

	g := NewAdminGuard("s3cret")
	h := g.Wrap(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no key: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer key: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/rooms?admin_key=s3cret", nil)
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("query key: %d", rec.Code)
	}
}

func TestParseTLSMode(t *testing.T) {
	for in, want := range map[string]TLSMode{
		"":            TLSModeOff,
		"self-signed": TLSModeSelfSigned,
		"acme":        TLSModeACME,
		"custom":      TLSModeCustom,
	} {
		got, err := ParseTLSMode(in)
		if err != nil || got != want {
			t.Errorf("%q: %v, %v", in, got, err)
		}
	}
	if _, err := ParseTLSMode("bogus"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRelayNamesFor(t *testing.T) {
	n := RelayNamesFor("relay.example.com", "192.0.2.10:8765", "relay.internal:8766", "192.0.2.10:8766")
	if !slices.Contains(n.DNS, "relay.example.com") || !slices.Contains(n.DNS, "relay.internal") || !slices.Contains(n.DNS, "localhost") {
		t.Fatalf("dns = %v", n.DNS)
	}
	want := net.ParseIP("192.0.2.10")
	count := 0
	for _, ip := range n.IPs {
		if ip.Equal(want) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("listener IP listed %d times in %v", count, n.IPs)
	}
}

func TestSelfSignedTLS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	res, err := SetupTLS(TLSOptions{Mode: TLSModeSelfSigned, DataDir: dir, Domain: "relay.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Config == nil || len(res.Config.Certificates) != 1 {
		t.Fatal("no certificate loaded")
	}
	info, err := os.Stat(res.Paths.KeyPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("key mode %v", info.Mode().Perm())
	}
	ca, err := ReadCACert(res.Paths)
	if err != nil || !strings.Contains(string(ca), "BEGIN CERTIFICATE") {
		t.Fatalf("ca = %q, %v", ca, err)
	}

	// Second call reuses the files.
	before, _ := os.ReadFile(res.Paths.CertPath)
	if _, err := SetupTLS(TLSOptions{Mode: TLSModeSelfSigned, DataDir: dir}); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(res.Paths.CertPath)
	if string(before) != string(after) {
		t.Fatal("certificate regenerated")
	}

	leaf, err := readCert(res.Paths.CertPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.VerifyHostname("relay.example.com"); err != nil {
		t.Fatal(err)
	}

	// A listener on a new address reissues the leaf under the same CA.
	caBefore, _ := os.ReadFile(res.Paths.CACertPath)
	_, err = SetupTLS(TLSOptions{Mode: TLSModeSelfSigned, DataDir: dir, ListenAddrs: []string{"10.9.8.7:8765", "10.9.8.7:8766"}})
	if err != nil {
		t.Fatal(err)
	}
	caAfter, _ := os.ReadFile(res.Paths.CACertPath)
	if string(caBefore) != string(caAfter) {
		t.Fatal("CA replaced on reissue")
	}
	leaf, err = readCert(res.Paths.CertPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.VerifyHostname("10.9.8.7"); err != nil {
		t.Fatal(err)
	}
	caCert, err := readCert(res.Paths.CACertPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.CheckSignatureFrom(caCert); err != nil {
		t.Fatalf("leaf not signed by the CA: %v", err)
	}

	off, err := SetupTLS(TLSOptions{Mode: TLSModeOff})
	if off != nil || err != nil {
		t.Fatal("off mode should return nil")
	}
}
