package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite read model of the off-chain credential store.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// ListByAddress returns every credential held for address ordered by provider.
func (r *CredentialRepo) ListByAddress(ctx context.Context, address string) ([]model.OffChainCredential, error) {
	const query = `SELECT address, provider, credential_hash, issued_at, expires_at, verified
		FROM credentials WHERE address = ? ORDER BY provider`

	rows, err := r.db.Reader.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", address, err)
	}
	defer rows.Close()

	creds := []model.OffChainCredential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// ReplaceForAddress swaps the address's credentials for creds in one transaction.
func (r *CredentialRepo) ReplaceForAddress(ctx context.Context, address string, creds []model.OffChainCredential) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace credentials: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE address = ?`, address); err != nil {
		return fmt.Errorf("clear credentials for %s: %w", address, err)
	}

	const insert = `INSERT INTO credentials (address, provider, credential_hash, issued_at, expires_at, verified, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare credential insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range creds {
		_, err := stmt.ExecContext(ctx,
			address,
			c.ProviderName,
			c.CredentialHash,
			c.IssuedAt.UTC(),
			c.ExpiresAt.UTC(),
			c.Verified,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert credential %s for %s: %w", c.ProviderName, address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credentials for %s: %w", address, err)
	}
	return nil
}

func scanCredential(s scanner) (*model.OffChainCredential, error) {
	var c model.OffChainCredential
	var issuedAt, expiresAt string

	if err := s.Scan(&c.Address, &c.ProviderName, &c.CredentialHash, &issuedAt, &expiresAt, &c.Verified); err != nil {
		return nil, err
	}

	var err error
	if c.IssuedAt, err = parseTime(issuedAt); err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &c, nil
}
