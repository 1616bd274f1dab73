package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrHashFormat is matched by every *HashFormatError.
var ErrHashFormat = errors.New("password: malformed digest")

// HashFormatError reports a stored digest that cannot be parsed.
type HashFormatError struct {
	Reason string
}

func (e *HashFormatError) Error() string {
	return "password: malformed digest: " + e.Reason
}

// Is matches ErrHashFormat.
func (e *HashFormatError) Is(target error) bool {
	return target == ErrHashFormat
}

func formatError(reason string) error {
	return &HashFormatError{Reason: reason}
}

// Hasher produces Argon2id digests and verifies Argon2id or legacy bcrypt
// digests. It is safe for concurrent use.
type Hasher struct {
	config Config
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// Hash returns a salted Argon2id PHC digest. Each call uses a fresh salt, so
// hashing the same input twice yields different digests. No length policy is
// applied here.
func (h *Hasher) Hash(plain string) (string, error) {
	return hashArgon2(h.config, plain)
}

// Verify reports whether plain matches digest. A mismatch is (false, nil);
// an unparseable digest is (false, *HashFormatError).
func (h *Hasher) Verify(plain, digest string) (bool, error) {
	if isBcrypt(digest) {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, formatError("bcrypt: " + err.Error())
		}
	}
	return verifyArgon2(plain, digest)
}

// NeedsUpgrade reports whether digest should be replaced by a fresh Hash:
// bcrypt digests always, Argon2id digests when their parameters are weaker
// than the configured ones.
func (h *Hasher) NeedsUpgrade(digest string) (bool, error) {
	if isBcrypt(digest) {
		if _, err := bcrypt.Cost([]byte(digest)); err != nil {
			return false, formatError("bcrypt: " + err.Error())
		}
		return true, nil
	}
	d, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}
	return d.weakerThan(h.config), nil
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}
