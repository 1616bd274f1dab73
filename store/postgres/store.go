package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/kennelguard/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a gorm-backed store.CredentialStore.
type Store struct {
	db *gorm.DB
}

var _ store.CredentialStore = (*Store)(nil)

// New wraps an open connection. Call RunMigrations first.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// PutIdentity inserts or replaces an identity.
func (s *Store) PutIdentity(ctx context.Context, identity store.Identity) error {
	rec := identityModel{
		ID:           identity.ID,
		CredentialID: strings.TrimSpace(identity.CredentialID),
		Role:         identity.Role.String(),
		Active:       identity.Active,
		PasswordHash: identity.PasswordHash,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	return translate(err)
}

// SetActive flips the soft-delete flag of an identity.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&identityModel{}).
		Where("id = ?", id).
		Update("active", active)
	return affectedOne(res)
}

// PutAPIKey inserts or replaces an API key.
func (s *Store) PutAPIKey(ctx context.Context, record store.APIKeyRecord) error {
	perms, err := json.Marshal(nonNil(record.Permissions))
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	rec := apiKeyModel{
		ID:           record.ID,
		KeyHash:      record.KeyHash,
		Active:       record.Active,
		Permissions:  string(perms),
		RequestLimit: record.RequestLimit,
		OwnerID:      record.OwnerID,
	}
	if !record.ExpiresAt.IsZero() {
		exp := record.ExpiresAt.UTC()
		rec.ExpiresAt = &exp
	}
	return translate(s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error)
}

func (s *Store) FindByCredentialID(ctx context.Context, credentialID string) (store.Identity, error) {
	var rec identityModel
	err := s.db.WithContext(ctx).
		Where("lower(credential_id) = ?", strings.ToLower(strings.TrimSpace(credentialID))).
		Take(&rec).Error
	if err != nil {
		return store.Identity{}, translate(err)
	}
	return rec.toDomain()
}

func (s *Store) FindByID(ctx context.Context, id int64) (store.Identity, error) {
	var rec identityModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return store.Identity{}, translate(err)
	}
	return rec.toDomain()
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, digest string) error {
	res := s.db.WithContext(ctx).Model(&identityModel{}).
		Where("id = ?", id).
		Update("password_hash", digest)
	return affectedOne(res)
}

// IssueResetToken locks the identity row so concurrent issues for the same
// identity serialize, retires every unused token and inserts the new one.
func (s *Store) IssueResetToken(ctx context.Context, token store.ResetToken) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner identityModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", token.IdentityID).
			Take(&owner).Error; err != nil {
			return err
		}
		if err := tx.Model(&resetTokenModel{}).
			Where("identity_id = ?", token.IdentityID).
			Where("used = ?", false).
			Update("used", true).Error; err != nil {
			return err
		}
		rec := resetTokenModel{
			ID:         token.ID,
			IdentityID: token.IdentityID,
			TokenHash:  token.TokenHash,
			ExpiresAt:  token.ExpiresAt.UTC(),
			CreatedAt:  token.CreatedAt.UTC(),
		}
		return tx.Create(&rec).Error
	})
	return translate(err)
}

func (s *Store) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time) (store.ResetToken, error) {
	var rec resetTokenModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", tokenHash).
			Where("used = ?", false).
			Where("expires_at > ?", now.UTC()).
			Take(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&resetTokenModel{}).
			Where("id = ?", rec.ID).
			Update("used", true).Error
	})
	if err != nil {
		return store.ResetToken{}, translate(err)
	}
	rec.Used = true
	return rec.toDomain(), nil
}

func (s *Store) FindResetTokenByHash(ctx context.Context, tokenHash string) (store.ResetToken, error) {
	var rec resetTokenModel
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&rec).Error; err != nil {
		return store.ResetToken{}, translate(err)
	}
	return rec.toDomain(), nil
}

// ResetTokens lists every stored token of identityID, oldest first.
func (s *Store) ResetTokens(ctx context.Context, identityID int64) ([]store.ResetToken, error) {
	var recs []resetTokenModel
	err := s.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("created_at ASC").Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make([]store.ResetToken, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

func (s *Store) InvalidateResetTokens(ctx context.Context, identityID int64) error {
	return translate(s.db.WithContext(ctx).Model(&resetTokenModel{}).
		Where("identity_id = ?", identityID).
		Where("used = ?", false).
		Update("used", true).Error)
}

func (s *Store) SweepResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("used = ? OR expires_at <= ?", true, now.UTC()).
		Delete(&resetTokenModel{})
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) FindAPIKeyByHash(ctx context.Context, keyHash string) (store.APIKeyRecord, error) {
	var rec apiKeyModel
	if err := s.db.WithContext(ctx).Where("key_hash = ?", keyHash).Take(&rec).Error; err != nil {
		return store.APIKeyRecord{}, translate(err)
	}
	return rec.toDomain()
}

func (s *Store) RecordAPIKeyUsage(ctx context.Context, usage store.APIKeyUsage) error {
	rec := apiKeyUsageModel{
		KeyID:     usage.KeyID,
		ClientIP:  usage.ClientIP,
		UserAgent: usage.UserAgent,
		Endpoint:  usage.Endpoint,
		Method:    usage.Method,
		At:        usage.At.UTC(),
	}
	return translate(s.db.WithContext(ctx).Create(&rec).Error)
}

func (m identityModel) toDomain() (store.Identity, error) {
	role, err := store.ParseRole(m.Role)
	if err != nil {
		return store.Identity{}, fmt.Errorf("identity %d: %w", m.ID, err)
	}
	return store.Identity{
		ID:           m.ID,
		Role:         role,
		CredentialID: m.CredentialID,
		Active:       m.Active,
		PasswordHash: m.PasswordHash,
	}, nil
}

func (m resetTokenModel) toDomain() store.ResetToken {
	return store.ResetToken{
		ID:         m.ID,
		IdentityID: m.IdentityID,
		TokenHash:  m.TokenHash,
		ExpiresAt:  m.ExpiresAt,
		Used:       m.Used,
		CreatedAt:  m.CreatedAt,
	}
}

func (m apiKeyModel) toDomain() (store.APIKeyRecord, error) {
	out := store.APIKeyRecord{
		ID:           m.ID,
		KeyHash:      m.KeyHash,
		Active:       m.Active,
		RequestLimit: m.RequestLimit,
		OwnerID:      m.OwnerID,
	}
	if m.ExpiresAt != nil {
		out.ExpiresAt = *m.ExpiresAt
	}
	if m.Permissions != "" {
		if err := json.Unmarshal([]byte(m.Permissions), &out.Permissions); err != nil {
			return store.APIKeyRecord{}, fmt.Errorf("%w: decode permissions: %v", store.ErrUnavailable, err)
		}
	}
	return out, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func affectedOne(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}
