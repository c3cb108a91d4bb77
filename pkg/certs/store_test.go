package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestMaterial issues a self-signed certificate for the domain set so
// tests exercise real PEM parsing.
func newTestMaterial(t *testing.T, domains []string, notAfter time.Time) Material {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: domains[0]},
		DNSNames:     domains,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	return Material{
		Domains:  domains,
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		ChainPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		NotAfter: notAfter,
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	notAfter := time.Now().Add(60 * 24 * time.Hour).Truncate(time.Second)
	mat := newTestMaterial(t, []string{"example.com", "www.example.com"}, notAfter)
	attempt := time.Now().Truncate(time.Second)

	if err := store.Save("example.com", mat, attempt); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec, err := store.Load("example.com")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rec.Domains) != 2 || rec.Domains[0] != "example.com" {
		t.Errorf("Load() domains = %v", rec.Domains)
	}
	if !rec.NotAfter.Equal(notAfter.UTC()) {
		t.Errorf("Load() not_after = %v, want %v", rec.NotAfter, notAfter.UTC())
	}
	if string(rec.ChainPEM) != string(mat.ChainPEM) {
		t.Error("chain PEM changed across round trip")
	}
	if !rec.Valid(time.Now()) {
		t.Error("freshly saved record reported invalid")
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrRecordNotFound", err)
	}
}

func TestStoreBackupOnReplace(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, nil)
	if err != nil {
		t.Fatal(err)
	}

	first := newTestMaterial(t, []string{"example.com"}, time.Now().Add(24*time.Hour))
	second := newTestMaterial(t, []string{"example.com"}, time.Now().Add(90*24*time.Hour))

	if err := store.Save("example.com", first, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("example.com", second, time.Now()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "backup"))
	if err != nil {
		t.Fatal(err)
	}
	var backedKey, backedChain bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "example.com_key.pem") {
			backedKey = true
		}
		if strings.Contains(e.Name(), "example.com_fullchain.pem") {
			backedChain = true
		}
	}
	if !backedKey || !backedChain {
		t.Errorf("replaced material not backed up, dir entries: %v", entries)
	}

	// The live record is the replacement.
	rec, err := store.Load("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.ChainPEM) != string(second.ChainPEM) {
		t.Error("live record is not the newest material")
	}
}

func TestStoreList(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.example.com", "b.example.com"} {
		mat := newTestMaterial(t, []string{name}, time.Now().Add(time.Hour))
		if err := store.Save(name, mat, time.Now()); err != nil {
			t.Fatal(err)
		}
	}

	names, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("List() = %v, want 2 names", names)
	}
	for _, name := range names {
		if name == "backup" {
			t.Error("List() leaked the backup directory")
		}
	}
}

func TestStoreAccountKeyStable(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	first, err := store.AccountKey()
	if err != nil {
		t.Fatalf("AccountKey() error = %v", err)
	}
	second, err := store.AccountKey()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Error("account key regenerated instead of reloaded")
	}
}
