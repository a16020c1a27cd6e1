package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"idvault.org/internal/auth"
)

type tokenStore Store

const tokenColumns = `id, user_id, name, abilities, secret_hash, ip_address, user_agent, last_used_at, expires_at, created_at`

func insertToken(ctx context.Context, tx execer, t *auth.AccessToken) error {
	abilities, err := json.Marshal(t.Abilities)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into access_tokens (id, user_id, name, abilities, secret_hash, ip_address, user_agent, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.UserID, t.Name, abilities, t.SecretHash, nullIfEmpty(t.IP), nullIfEmpty(t.UserAgent), nullIfZero(t.ExpiresAt), t.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, t.UserID)
		}
		return err
	}
	return nil
}

func scanToken(row interface{ Scan(...any) error }) (*auth.AccessToken, error) {
	var (
		t         auth.AccessToken
		abilities []byte
		ip        sql.NullString
		agent     sql.NullString
		lastUsed  sql.NullTime
		expires   sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &abilities, &t.SecretHash, &ip, &agent, &lastUsed, &expires, &t.CreatedAt); err != nil {
		return nil, err
	}
	if len(abilities) > 0 {
		if err := json.Unmarshal(abilities, &t.Abilities); err != nil {
			return nil, fmt.Errorf("decode abilities: %w", err)
		}
	}
	t.IP = ip.String
	t.UserAgent = agent.String
	if lastUsed.Valid {
		v := lastUsed.Time
		t.LastUsedAt = &v
	}
	if expires.Valid {
		v := expires.Time
		t.ExpiresAt = &v
	}
	return &t, nil
}

func (s *tokenStore) Create(ctx context.Context, t *auth.AccessToken) error {
	return insertToken(ctx, s.db, t)
}

func (s *tokenStore) Find(ctx context.Context, id string) (*auth.AccessToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx, `
		select `+tokenColumns+` from access_tokens where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token %s", auth.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *tokenStore) ListByUser(ctx context.Context, userID string) ([]*auth.AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+tokenColumns+`
		from access_tokens
		where user_id = $1
		order by created_at desc, id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*auth.AccessToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *tokenStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update access_tokens set last_used_at = $1 where id = $2
	`, at.UTC(), id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: token %s", auth.ErrNotFound, id)
	}
	return nil
}

func (s *tokenStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from access_tokens where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: token %s", auth.ErrNotFound, id)
	}
	return nil
}

func (s *tokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from access_tokens where user_id = $1`, userID)
	return err
}
