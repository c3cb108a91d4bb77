package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store file layout, one directory per certificate name:
//
//	<root>/account.key              ACME account private key
//	<root>/backup/                  replaced material, timestamped
//	<root>/<name>/key.pem           private key
//	<root>/<name>/fullchain.pem     certificate chain, leaf first
//	<root>/<name>/meta.yaml         domains, expiry, last attempt
const (
	accountKeyFile = "account.key"
	backupDir      = "backup"
	keyFile        = "key.pem"
	chainFile      = "fullchain.pem"
	metaFile       = "meta.yaml"
)

// storeMeta is the on-disk metadata sidecar of one record.
type storeMeta struct {
	Domains     []string  `yaml:"domains"`
	NotAfter    time.Time `yaml:"not_after"`
	LastAttempt time.Time `yaml:"last_attempt"`
}

// Store is the on-disk certificate store. It is the single writer of
// certificate material; readers get fully-written records only because
// every write goes through a temp file and rename.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore opens (creating if needed) a certificate store rooted at root.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{root, filepath.Join(root, backupDir)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create certificate store %q: %w", dir, err)
		}
	}
	return &Store{root: root, logger: logger.With("component", "certs.store")}, nil
}

// Save persists certificate material for a name. Existing material is
// backed up first, then each file is replaced atomically: a crash mid-save
// leaves either the old or the new record, never a mix of torn files.
func (s *Store) Save(name string, mat Material, lastAttempt time.Time) error {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &PersistError{Name: name, Err: err}
	}

	if err := s.backup(name); err != nil {
		return &PersistError{Name: name, Err: err}
	}

	meta := storeMeta{
		Domains:     mat.Domains,
		NotAfter:    mat.NotAfter.UTC(),
		LastAttempt: lastAttempt.UTC(),
	}
	metaBytes, err := yaml.Marshal(&meta)
	if err != nil {
		return &PersistError{Name: name, Err: err}
	}

	files := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		{keyFile, mat.KeyPEM, 0o600},
		{chainFile, mat.ChainPEM, 0o644},
		{metaFile, metaBytes, 0o644},
	}
	for _, f := range files {
		if err := writeFileAtomic(filepath.Join(dir, f.name), f.data, f.mode); err != nil {
			return &PersistError{Name: name, Err: err}
		}
	}

	s.logger.Info("certificate material persisted",
		"cert", name,
		"domains", mat.Domains,
		"not_after", mat.NotAfter.Format(time.RFC3339),
	)
	return nil
}

// backup copies a record's current key and chain into the backup directory
// with a timestamp prefix, mirroring how renewals must never destroy the
// material they replace.
func (s *Store) backup(name string) error {
	dir := filepath.Join(s.root, name)
	stamp := time.Now().UTC().Format("20060102_150405")

	for _, f := range []string{keyFile, chainFile} {
		src := filepath.Join(dir, f)
		data, err := os.ReadFile(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		dst := filepath.Join(s.root, backupDir, fmt.Sprintf("%s_%s_%s", stamp, name, f))
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the record for a name. Returns ErrRecordNotFound when the name
// has no persisted material.
func (s *Store) Load(name string) (*Record, error) {
	dir := filepath.Join(s.root, name)

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFile))
	if os.IsNotExist(err) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate metadata for %q: %w", name, err)
	}

	var meta storeMeta
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("corrupt certificate metadata for %q: %w", name, err)
	}

	key, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key for %q: %w", name, err)
	}
	chain, err := os.ReadFile(filepath.Join(dir, chainFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate chain for %q: %w", name, err)
	}

	return &Record{
		Name:        name,
		Domains:     meta.Domains,
		KeyPEM:      key,
		ChainPEM:    chain,
		NotAfter:    meta.NotAfter,
		LastAttempt: meta.LastAttempt,
	}, nil
}

// List returns the names of all persisted records, sorted by directory
// order (lexicographic on most filesystems).
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificate store: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == backupDir {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), metaFile)); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// AccountKey loads the ACME account private key, generating and persisting
// a fresh ECDSA P-256 key on first use.
func (s *Store) AccountKey() (*ecdsa.PrivateKey, error) {
	path := filepath.Join(s.root, accountKeyFile)

	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("corrupt account key %q", path)
		}
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse account key: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read account key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := writeFileAtomic(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist account key: %w", err)
	}

	s.logger.Info("generated new ACME account key", "path", path)
	return key, nil
}

// writeFileAtomic writes data via a temp file and rename.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
