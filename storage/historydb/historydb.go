package historydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"vbmsd/native/claim"
	"vbmsd/native/ledger"
)

// Store mirrors finalized claims into sqlite so the HTTP history endpoint can
// query by address without walking the KV index. The KV claim history remains
// authoritative; this store is rebuildable.
type Store struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("historydb: path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS claims (
    tx_hash      TEXT PRIMARY KEY,
    address      TEXT NOT NULL,
    amount       TEXT NOT NULL,
    nonce        TEXT NOT NULL,
    finalized_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_claims_address ON claims(address, finalized_at DESC);
`

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("historydb: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("historydb: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record mirrors a finalized claim. Replays of the same transaction hash are
// ignored so the mirror stays idempotent with the KV history.
func (s *Store) Record(ctx context.Context, record *claim.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("historydb: store not configured")
	}
	if record == nil {
		return fmt.Errorf("historydb: record must not be nil")
	}
	txHash := strings.ToLower(strings.TrimSpace(record.TxHash))
	if txHash == "" {
		return fmt.Errorf("historydb: txHash required")
	}
	amount := "0"
	if record.Amount != nil {
		amount = record.Amount.String()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO claims(tx_hash, address, amount, nonce, finalized_at)
        VALUES(?, ?, ?, ?, ?)
        ON CONFLICT(tx_hash) DO NOTHING
    `, txHash, ledger.FormatAddress(record.Address), amount, record.Nonce.Hex(), record.FinalizedAt)
	if err != nil {
		return fmt.Errorf("historydb: insert claim: %w", err)
	}
	return nil
}

// ListByAddress returns the address's claims, most recent first. limit <= 0
// returns the full history.
func (s *Store) ListByAddress(ctx context.Context, addr [20]byte, limit int) ([]*claim.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("historydb: store not configured")
	}
	query := `
        SELECT tx_hash, amount, nonce, finalized_at
        FROM claims
        WHERE address = ?
        ORDER BY finalized_at DESC, tx_hash DESC
    `
	args := []interface{}{ledger.FormatAddress(addr)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("historydb: query claims: %w", err)
	}
	defer rows.Close()
	records := make([]*claim.Record, 0)
	for rows.Next() {
		var (
			txHash      string
			amountText  string
			nonceText   string
			finalizedAt int64
		)
		if err := rows.Scan(&txHash, &amountText, &nonceText, &finalizedAt); err != nil {
			return nil, fmt.Errorf("historydb: scan claim: %w", err)
		}
		amount, ok := new(big.Int).SetString(amountText, 10)
		if !ok {
			return nil, fmt.Errorf("historydb: corrupt amount %q for %s", amountText, txHash)
		}
		nonce, err := ledger.ParseNonceID(nonceText)
		if err != nil {
			return nil, fmt.Errorf("historydb: corrupt nonce for %s: %w", txHash, err)
		}
		records = append(records, &claim.Record{
			TxHash:      txHash,
			Address:     addr,
			Amount:      amount,
			Nonce:       nonce,
			FinalizedAt: finalizedAt,
		})
	}
	return records, rows.Err()
}

// TotalClaimed sums every finalized claim amount across all addresses.
func (s *Store) TotalClaimed(ctx context.Context) (*big.Int, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("historydb: store not configured")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM claims`)
	if err != nil {
		return nil, 0, fmt.Errorf("historydb: query totals: %w", err)
	}
	defer rows.Close()
	total := big.NewInt(0)
	var count int64
	for rows.Next() {
		var amountText string
		if err := rows.Scan(&amountText); err != nil {
			return nil, 0, fmt.Errorf("historydb: scan total: %w", err)
		}
		amount, ok := new(big.Int).SetString(amountText, 10)
		if !ok {
			return nil, 0, fmt.Errorf("historydb: corrupt amount %q", amountText)
		}
		total.Add(total, amount)
		count++
	}
	return total, count, rows.Err()
}

// Prune removes claims finalized before the cutoff, returning the rows
// removed. The KV history keeps the authoritative copy.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("historydb: store not configured")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE finalized_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("historydb: prune: %w", err)
	}
	return result.RowsAffected()
}
