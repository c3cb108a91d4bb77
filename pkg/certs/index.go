package certs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// IndexEntry is one row of the certificate index: the queryable metadata of
// a certificate name. The PEM material itself lives in the Store; the index
// exists so that sweeps and the admin surface can answer "what do we have,
// what state is it in, what expires soon" without reading PEM files.
type IndexEntry struct {
	// Name is the certificate name.
	Name string

	// Domains is the domain list the certificate covers (or will cover).
	Domains []string

	// State is the current lifecycle state.
	State State

	// NotAfter is the leaf expiry; zero until material exists.
	NotAfter time.Time

	// LastAttempt is when issuance or renewal was last attempted.
	LastAttempt time.Time

	// ForceRenew marks the name for renewal on the next sweep regardless
	// of expiry.
	ForceRenew bool

	// UpdatedAt is when this row last changed.
	UpdatedAt time.Time
}

// Index is the SQLite-backed certificate metadata index.
//
// SQLite runs in WAL mode with a single writer connection; all writes are
// additionally serialized behind a mutex so prepared statements are never
// used concurrently.
type Index struct {
	db *sql.DB
	mu sync.RWMutex

	closeOnce sync.Once

	upsertStmt   *sql.Stmt
	stateStmt    *sql.Stmt
	getStmt      *sql.Stmt
	listStmt     *sql.Stmt
	expiringStmt *sql.Stmt
	forceStmt    *sql.Stmt
	deleteStmt   *sql.Stmt
}

// OpenIndex opens (creating if needed) the certificate index at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("index path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs; the
	// mattn-style _journal_mode keys are silently ignored by this driver.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open certificate index: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	if err := idx.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare index statements: %w", err)
	}
	return idx, nil
}

func (i *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS certificates (
		name TEXT PRIMARY KEY,
		domains TEXT NOT NULL,
		state TEXT NOT NULL,
		not_after INTEGER NOT NULL DEFAULT 0,
		last_attempt INTEGER NOT NULL DEFAULT 0,
		force_renew INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cert_not_after ON certificates(not_after);
	CREATE INDEX IF NOT EXISTS idx_cert_state ON certificates(state);
	`
	_, err := i.db.Exec(schema)
	return err
}

func (i *Index) prepareStatements() error {
	var err error

	i.upsertStmt, err = i.db.Prepare(`
		INSERT INTO certificates (name, domains, state, not_after, last_attempt, force_renew, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			domains = excluded.domains,
			state = excluded.state,
			not_after = excluded.not_after,
			last_attempt = excluded.last_attempt,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}

	i.stateStmt, err = i.db.Prepare(`
		UPDATE certificates SET state = ?, updated_at = ? WHERE name = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare state statement: %w", err)
	}

	i.getStmt, err = i.db.Prepare(`
		SELECT name, domains, state, not_after, last_attempt, force_renew, updated_at
		FROM certificates WHERE name = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	i.listStmt, err = i.db.Prepare(`
		SELECT name, domains, state, not_after, last_attempt, force_renew, updated_at
		FROM certificates ORDER BY name
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	i.expiringStmt, err = i.db.Prepare(`
		SELECT name, domains, state, not_after, last_attempt, force_renew, updated_at
		FROM certificates
		WHERE force_renew = 1 OR (not_after > 0 AND not_after < ?)
		ORDER BY not_after
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare expiring statement: %w", err)
	}

	i.forceStmt, err = i.db.Prepare(`
		UPDATE certificates SET force_renew = ?, updated_at = ? WHERE name = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare force statement: %w", err)
	}

	i.deleteStmt, err = i.db.Prepare(`
		DELETE FROM certificates WHERE name = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return nil
}

// Upsert writes an entry for a name. An existing row keeps its force_renew
// flag; the flag changes only through SetForceRenew, so state churn during
// an order cannot lose a pending forced renewal.
func (i *Index) Upsert(ctx context.Context, entry IndexEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("entry name cannot be empty")
	}
	domains, err := json.Marshal(entry.Domains)
	if err != nil {
		return fmt.Errorf("failed to marshal domains: %w", err)
	}
	force := 0
	if entry.ForceRenew {
		force = 1
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	_, err = i.upsertStmt.ExecContext(ctx,
		entry.Name,
		string(domains),
		string(entry.State),
		unixOrZero(entry.NotAfter),
		unixOrZero(entry.LastAttempt),
		force,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert certificate %q: %w", entry.Name, err)
	}
	return nil
}

// SetState transitions a name's recorded state without touching the rest of
// the row.
func (i *Index) SetState(ctx context.Context, name string, state State) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	res, err := i.stateStmt.ExecContext(ctx, string(state), time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("failed to set state for %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Get returns the entry for a name, or ErrRecordNotFound.
func (i *Index) Get(ctx context.Context, name string) (*IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	row := i.getStmt.QueryRowContext(ctx, name)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %q: %w", name, err)
	}
	return entry, nil
}

// List returns all entries ordered by name.
func (i *Index) List(ctx context.Context) ([]IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	rows, err := i.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Expiring returns entries whose leaf expires before the deadline, plus any
// entry flagged for forced renewal.
func (i *Index) Expiring(ctx context.Context, deadline time.Time) ([]IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	rows, err := i.expiringStmt.QueryContext(ctx, deadline.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring certificates: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// SetForceRenew flags or unflags a name for renewal on the next sweep.
func (i *Index) SetForceRenew(ctx context.Context, name string, force bool) error {
	v := 0
	if force {
		v = 1
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	res, err := i.forceStmt.ExecContext(ctx, v, time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("failed to flag %q for renewal: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes a name's entry. Removing an unknown name is not an error.
func (i *Index) Delete(ctx context.Context, name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, err := i.deleteStmt.ExecContext(ctx, name); err != nil {
		return fmt.Errorf("failed to delete certificate %q: %w", name, err)
	}
	return nil
}

// Close releases the prepared statements and the database handle.
func (i *Index) Close() error {
	var err error
	i.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			i.upsertStmt, i.stateStmt, i.getStmt, i.listStmt,
			i.expiringStmt, i.forceStmt, i.deleteStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = i.db.Close()
	})
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*IndexEntry, error) {
	var (
		entry       IndexEntry
		domainsJSON string
		state       string
		notAfter    int64
		lastAttempt int64
		force       int
		updatedAt   int64
	)
	if err := row.Scan(&entry.Name, &domainsJSON, &state, &notAfter, &lastAttempt, &force, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(domainsJSON), &entry.Domains); err != nil {
		return nil, fmt.Errorf("corrupt domain list for %q: %w", entry.Name, err)
	}
	entry.State = State(state)
	if notAfter > 0 {
		entry.NotAfter = time.Unix(notAfter, 0).UTC()
	}
	if lastAttempt > 0 {
		entry.LastAttempt = time.Unix(lastAttempt, 0).UTC()
	}
	entry.ForceRenew = force != 0
	entry.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &entry, nil
}

func collectEntries(rows *sql.Rows) ([]IndexEntry, error) {
	var entries []IndexEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
