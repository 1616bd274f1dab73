// Package sqlite implements store.CredentialStore over SQLite using the
// pure-Go modernc.org/sqlite driver.
//
// Reset-token issue runs inside an IMMEDIATE transaction so concurrent
// requests for the same identity serialize on the database write lock.
// Redemption is a single UPDATE ... RETURNING statement, which makes
// find-and-mark-used atomic without an explicit transaction.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/kennelguard/store"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store implements store.CredentialStore.
type Store struct {
	db *sql.DB
}

var _ store.CredentialStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, name).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// PutIdentity inserts or replaces an identity.
func (s *Store) PutIdentity(ctx context.Context, identity store.Identity) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO identities (id, credential_id, role, active, password_hash)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    credential_id = excluded.credential_id,
    role          = excluded.role,
    active        = excluded.active,
    password_hash = excluded.password_hash`,
		identity.ID, strings.TrimSpace(identity.CredentialID), identity.Role.String(), identity.Active, identity.PasswordHash)
	return unavailable(err)
}

// SetActive flips the soft-delete flag of an identity.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET active = ? WHERE id = ?`, active, id)
	return affectedOne(res, err)
}

// PutAPIKey inserts or replaces an API key.
func (s *Store) PutAPIKey(ctx context.Context, record store.APIKeyRecord) error {
	perms, err := json.Marshal(record.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO api_keys (id, key_hash, active, expires_at, permissions, request_limit, owner_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    key_hash      = excluded.key_hash,
    active        = excluded.active,
    expires_at    = excluded.expires_at,
    permissions   = excluded.permissions,
    request_limit = excluded.request_limit,
    owner_id      = excluded.owner_id`,
		record.ID, record.KeyHash, record.Active, nullableMillis(record.ExpiresAt), string(perms), record.RequestLimit, record.OwnerID)
	return unavailable(err)
}

func (s *Store) FindByCredentialID(ctx context.Context, credentialID string) (store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, credential_id, role, active, password_hash FROM identities WHERE credential_id = ?`,
		strings.TrimSpace(credentialID))
	return scanIdentity(row)
}

func (s *Store) FindByID(ctx context.Context, id int64) (store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, credential_id, role, active, password_hash FROM identities WHERE id = ?`, id)
	return scanIdentity(row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, digest string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET password_hash = ? WHERE id = ?`, digest, id)
	return affectedOne(res, err)
}

func (s *Store) IssueResetToken(ctx context.Context, token store.ResetToken) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE reset_tokens SET used = 1 WHERE identity_id = ? AND used = 0`, token.IdentityID); err != nil {
		return unavailable(err)
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO reset_tokens (id, identity_id, token_hash, expires_at, used, created_at)
VALUES (?, ?, ?, ?, 0, ?)`,
		token.ID, token.IdentityID, token.TokenHash, toMillis(token.ExpiresAt), toMillis(token.CreatedAt)); err != nil {
		return unavailable(err)
	}
	if err = tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time) (store.ResetToken, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE reset_tokens SET used = 1
WHERE token_hash = ? AND used = 0 AND expires_at > ?
RETURNING id, identity_id, token_hash, expires_at, used, created_at`,
		tokenHash, toMillis(now))
	return scanResetToken(row)
}

func (s *Store) FindResetTokenByHash(ctx context.Context, tokenHash string) (store.ResetToken, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, identity_id, token_hash, expires_at, used, created_at
FROM reset_tokens WHERE token_hash = ?`, tokenHash)
	return scanResetToken(row)
}

// ResetTokens lists every token row for identityID, oldest first.
func (s *Store) ResetTokens(ctx context.Context, identityID int64) ([]store.ResetToken, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, identity_id, token_hash, expires_at, used, created_at
FROM reset_tokens WHERE identity_id = ? ORDER BY created_at, rowid`, identityID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []store.ResetToken
	for rows.Next() {
		tok, err := scanResetToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, unavailable(rows.Err())
}

func (s *Store) InvalidateResetTokens(ctx context.Context, identityID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reset_tokens SET used = 1 WHERE identity_id = ? AND used = 0`, identityID)
	return unavailable(err)
}

func (s *Store) SweepResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE used = 1 OR expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	return n, unavailable(err)
}

func (s *Store) FindAPIKeyByHash(ctx context.Context, keyHash string) (store.APIKeyRecord, error) {
	var (
		record    store.APIKeyRecord
		expiresAt sql.NullInt64
		perms     string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, key_hash, active, expires_at, permissions, request_limit, owner_id
FROM api_keys WHERE key_hash = ?`, keyHash).
		Scan(&record.ID, &record.KeyHash, &record.Active, &expiresAt, &perms, &record.RequestLimit, &record.OwnerID)
	if err != nil {
		return store.APIKeyRecord{}, notFoundOr(err)
	}
	if expiresAt.Valid {
		record.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	if err := json.Unmarshal([]byte(perms), &record.Permissions); err != nil {
		return store.APIKeyRecord{}, fmt.Errorf("decode permissions for api key %s: %w", record.ID, err)
	}
	return record, nil
}

func (s *Store) RecordAPIKeyUsage(ctx context.Context, usage store.APIKeyUsage) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_key_usage (key_id, client_ip, user_agent, endpoint, method, at)
VALUES (?, ?, ?, ?, ?, ?)`,
		usage.KeyID, usage.ClientIP, usage.UserAgent, usage.Endpoint, usage.Method, toMillis(usage.At))
	return unavailable(err)
}

// UsageCount returns the number of usage rows recorded for keyID.
func (s *Store) UsageCount(ctx context.Context, keyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_key_usage WHERE key_id = ?`, keyID).Scan(&n)
	return n, unavailable(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (store.Identity, error) {
	var (
		identity store.Identity
		role     string
	)
	if err := row.Scan(&identity.ID, &identity.CredentialID, &role, &identity.Active, &identity.PasswordHash); err != nil {
		return store.Identity{}, notFoundOr(err)
	}
	parsed, err := store.ParseRole(role)
	if err != nil {
		return store.Identity{}, fmt.Errorf("identity %d: %w", identity.ID, err)
	}
	identity.Role = parsed
	return identity, nil
}

func scanResetToken(row scanner) (store.ResetToken, error) {
	var (
		tok                  store.ResetToken
		expiresAt, createdAt int64
	)
	if err := row.Scan(&tok.ID, &tok.IdentityID, &tok.TokenHash, &expiresAt, &tok.Used, &createdAt); err != nil {
		return store.ResetToken{}, notFoundOr(err)
	}
	tok.ExpiresAt = fromMillis(expiresAt)
	tok.CreatedAt = fromMillis(createdAt)
	return tok, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(t), Valid: true}
}

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return unavailable(err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
