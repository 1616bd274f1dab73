package postgres

import "time"

type identityModel struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	CredentialID string `gorm:"column:credential_id"`
	Role         string `gorm:"column:role"`
	Active       bool   `gorm:"column:active"`
	PasswordHash string `gorm:"column:password_hash"`
}

func (identityModel) TableName() string { return "identities" }

type resetTokenModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	IdentityID int64     `gorm:"column:identity_id"`
	TokenHash  string    `gorm:"column:token_hash"`
	ExpiresAt  time.Time `gorm:"column:expires_at"`
	Used       bool      `gorm:"column:used"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (resetTokenModel) TableName() string { return "reset_tokens" }

type apiKeyModel struct {
	ID           string     `gorm:"column:id;primaryKey"`
	KeyHash      string     `gorm:"column:key_hash"`
	Active       bool       `gorm:"column:active"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	Permissions  string     `gorm:"column:permissions;type:jsonb"`
	RequestLimit int        `gorm:"column:request_limit"`
	OwnerID      int64      `gorm:"column:owner_id"`
}

func (apiKeyModel) TableName() string { return "api_keys" }

type apiKeyUsageModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	KeyID     string    `gorm:"column:key_id"`
	ClientIP  string    `gorm:"column:client_ip"`
	UserAgent string    `gorm:"column:user_agent"`
	Endpoint  string    `gorm:"column:endpoint"`
	Method    string    `gorm:"column:method"`
	At        time.Time `gorm:"column:at"`
}

func (apiKeyUsageModel) TableName() string { return "api_key_usage" }
