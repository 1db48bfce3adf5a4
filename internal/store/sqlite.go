package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	_ "github.com/mattn/go-sqlite3"

	"squadsflow-go/internal/squads"
)

// SQLite keeps entries in a single database file.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store needs a path")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS proposals (
		multisig TEXT NOT NULL,
		tx_index INTEGER NOT NULL,
		vault_index INTEGER NOT NULL,
		message BLOB,
		status TEXT NOT NULL,
		approvals TEXT NOT NULL DEFAULT '',
		rejections TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY(multisig, tx_index)
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_status
		ON proposals(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Put(ctx context.Context, e *Entry) error {
	now := time.Now().UTC()
	created, updated := e.CreatedAt, e.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals
			(multisig, tx_index, vault_index, message, status, approvals, rejections, signature, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(multisig, tx_index) DO UPDATE SET
			vault_index = excluded.vault_index,
			message = excluded.message,
			status = excluded.status,
			approvals = excluded.approvals,
			rejections = excluded.rejections,
			signature = excluded.signature,
			updated_at = excluded.updated_at`,
		e.Multisig.String(), int64(e.Index), int(e.VaultIndex), e.Message, e.Status.String(),
		joinKeys(e.Approvals), joinKeys(e.Rejections), e.Signature, created, updated,
	)
	if err != nil {
		return fmt.Errorf("failed to store proposal %d of %s: %w", e.Index, e.Multisig, err)
	}
	return nil
}

const selectColumns = `SELECT multisig, tx_index, vault_index, message, status, approvals, rejections, signature, created_at, updated_at FROM proposals`

func (s *SQLite) Get(ctx context.Context, multisig solana.PublicKey, index uint64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE multisig = ? AND tx_index = ?`, multisig.String(), int64(index))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *SQLite) List(ctx context.Context, multisig solana.PublicKey) ([]*Entry, error) {
	return s.query(ctx, selectColumns+` WHERE multisig = ? ORDER BY tx_index`, multisig.String())
}

func (s *SQLite) Pending(ctx context.Context) ([]*Entry, error) {
	terminal := []interface{}{
		squads.ProposalRejected.String(),
		squads.ProposalExecuted.String(),
		squads.ProposalCancelled.String(),
	}
	return s.query(ctx, selectColumns+` WHERE status NOT IN (?, ?, ?) ORDER BY multisig, tx_index`, terminal...)
}

func (s *SQLite) query(ctx context.Context, q string, args ...interface{}) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                     Entry
		multisig, status      string
		approvals, rejections string
		index                 int64
		vaultIndex            int
	)
	err := sc.Scan(&multisig, &index, &vaultIndex, &e.Message, &status, &approvals, &rejections, &e.Signature, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.Multisig, err = solana.PublicKeyFromBase58(multisig); err != nil {
		return nil, fmt.Errorf("corrupt multisig column %q: %w", multisig, err)
	}
	st, ok := squads.ParseProposalStatus(status)
	if !ok {
		return nil, fmt.Errorf("corrupt status column %q", status)
	}
	e.Index = uint64(index)
	e.VaultIndex = uint8(vaultIndex)
	e.Status = st
	if e.Approvals, err = splitKeys(approvals); err != nil {
		return nil, err
	}
	if e.Rejections, err = splitKeys(rejections); err != nil {
		return nil, err
	}
	return &e, nil
}

func joinKeys(keys []solana.PublicKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}

func splitKeys(s string) ([]solana.PublicKey, error) {
	if s == "" {
		return nil, nil
	}
	var keys []solana.PublicKey
	for _, part := range strings.Split(s, ",") {
		k, err := solana.PublicKeyFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("corrupt key list %q: %w", s, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
