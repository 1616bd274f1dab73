package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 key pairs.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrMalformed means the token is not a structurally valid JWS.
	ErrMalformed = errors.New("jwt: malformed token")
	// ErrInvalid means the signature, algorithm, key id, type, issuer or
	// audience did not check out.
	ErrInvalid = errors.New("jwt: invalid token")
	// ErrExpired means the signature is valid but exp has passed.
	ErrExpired = errors.New("jwt: token expired")
)

// Config describes one signing context. Access and refresh tokens each get
// their own Manager with distinct keys and audiences.
type Config struct {
	TTL           time.Duration
	TokenType     string
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// Now defaults to time.Now.
	Now func() time.Time
}

// Claims is the verified payload of a kennelguard token.
type Claims struct {
	UID  int64  `json:"uid"`
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens for one signing context. It is immutable
// after construction and safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
//
// NewManager fails on a non-positive TTL, an unknown token type, leeway
// outside [0, 2m], missing key material, or a KeyID absent from VerifyKeys.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.TokenType != TypeAccess && cfg.TokenType != TypeRefresh {
		return nil, fmt.Errorf("unsupported token type %q", cfg.TokenType)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// TTL returns the configured lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.TTL
}

// Create signs a token for uid with the given role. exp is iat + TTL at
// second precision. The returned claims are exactly what was signed.
func (j *Manager) Create(uid int64, role string) (string, *Claims, error) {
	now := j.config.Now()
	claims := &Claims{
		UID:  uid,
		Role: role,
		Type: j.config.TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.TTL)),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.signKey()
	if err != nil {
		return "", nil, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies the signature first and the time and audience claims second.
// Failures wrap exactly one of ErrMalformed, ErrInvalid or ErrExpired.
func (j *Manager) Parse(tokenStr string) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Type != j.config.TokenType {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalid, claims.Type)
	}
	if claims.UID <= 0 {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}
	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.verifyKeyFrom(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return j.verifyKey()
}

// classify maps golang-jwt errors onto the package sentinels. Signature
// checks run before claim validation, so ErrTokenExpired implies a valid
// signature.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
}

func (j *Manager) method() jwt.SigningMethod {
	if j.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (j *Manager) signKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) verifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPublicKey(j.config.PublicKey)
}

func (j *Manager) verifyKeyFrom(key []byte) (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
