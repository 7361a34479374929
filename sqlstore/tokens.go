package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/ledger"
)

var _ ledger.Store = (*TokenStore)(nil)

// TokenStore is a [ledger.Store] over the refresh_tokens table. Supersede
// runs the conditional revoke and the child insert in one transaction.
type TokenStore struct {
	db *DB
}

const tokenColumns = `id, user_id, token_hash, family_id, parent_id, expires_at, revoked, created_at`

func (s *TokenStore) Insert(ctx context.Context, tok ledger.Token) error {
	_, err := s.db.exec(ctx,
		`insert into refresh_tokens (`+tokenColumns+`) values (?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.FamilyID, tok.ParentID,
		millis(tok.ExpiresAt), tok.Revoked, millis(tok.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *TokenStore) FindByHash(ctx context.Context, tokenHash string) (ledger.Token, error) {
	row := s.db.queryRow(ctx,
		`select `+tokenColumns+` from refresh_tokens where token_hash = ?`, tokenHash)
	tok, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Token{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Token{}, fmt.Errorf("find refresh token: %w", err)
	}
	return tok, nil
}

// Supersede revokes parentID only while it is still active and inserts child
// in the same transaction. Of two concurrent callers exactly one applies.
func (s *TokenStore) Supersede(ctx context.Context, parentID string, child ledger.Token) (bool, error) {
	applied := false
	err := s.db.tx(ctx, func(tx *txn) error {
		res, err := tx.exec(ctx,
			`update refresh_tokens set revoked = ? where id = ? and revoked = ?`,
			true, parentID, false)
		if err != nil {
			return fmt.Errorf("revoke parent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.exec(ctx,
			`insert into refresh_tokens (`+tokenColumns+`) values (?, ?, ?, ?, ?, ?, ?, ?)`,
			child.ID, child.UserID, child.TokenHash, child.FamilyID, child.ParentID,
			millis(child.ExpiresAt), child.Revoked, millis(child.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert child: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("supersede refresh token: %w", err)
	}
	return applied, nil
}

func (s *TokenStore) RevokeByHash(ctx context.Context, tokenHash string) (bool, error) {
	res, err := s.db.exec(ctx,
		`update refresh_tokens set revoked = ? where token_hash = ? and revoked = ?`,
		true, tokenHash, false)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *TokenStore) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	res, err := s.db.exec(ctx,
		`update refresh_tokens set revoked = ? where family_id = ? and revoked = ?`,
		true, familyID, false)
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}
	return res.RowsAffected()
}

func (s *TokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.exec(ctx,
		`update refresh_tokens set revoked = ? where user_id = ? and revoked = ?`,
		true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes rows that expired before the cutoff, revoked or not.
// Family history goes with them, so a replay of an expired token is reported
// as invalid rather than as reuse.
func (s *TokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.exec(ctx, `delete from refresh_tokens where expires_at < ?`, millis(before))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// ActiveForUser lists the user's unrevoked, unexpired tokens, newest first.
func (s *TokenStore) ActiveForUser(ctx context.Context, userID string, now time.Time) ([]ledger.Token, error) {
	rows, err := s.db.query(ctx,
		`select `+tokenColumns+` from refresh_tokens
		 where user_id = ? and revoked = ? and expires_at > ?
		 order by created_at desc`,
		userID, false, millis(now))
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}
	defer rows.Close()

	var out []ledger.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (ledger.Token, error) {
	var (
		tok                ledger.Token
		expires, createdAt int64
	)
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.FamilyID, &tok.ParentID,
		&expires, &tok.Revoked, &createdAt)
	if err != nil {
		return ledger.Token{}, err
	}
	tok.ExpiresAt = fromMillis(expires)
	tok.CreatedAt = fromMillis(createdAt)
	return tok, nil
}
