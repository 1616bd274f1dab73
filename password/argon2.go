package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2ID              = "argon2id"
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns 64 MiB, 3 passes, 2 lanes, 16-byte salt, 32-byte key.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks the parameter floors.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KiB")
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case c.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}

type argon2Digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func hashArgon2(cfg Config, plain string) (string, error) {
	salt := make([]byte, cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, cfg.Time, cfg.Memory, cfg.Parallelism, cfg.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		cfg.Memory,
		cfg.Time,
		cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2(plain, digest string) (bool, error) {
	d, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plain), d.salt, d.time, d.memory, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// weakerThan reports whether d was produced with weaker parameters than cfg.
func (d *argon2Digest) weakerThan(cfg Config) bool {
	return cfg.Memory > d.memory ||
		cfg.Time > d.time ||
		cfg.Parallelism > d.parallelism ||
		cfg.KeyLength != uint32(len(d.key))
}

func parseArgon2(digest string) (*argon2Digest, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, formatError("invalid PHC layout")
	}
	if parts[1] != argon2ID {
		return nil, formatError("unsupported algorithm " + strconv.Quote(parts[1]))
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, formatError("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, formatError("unsupported argon2 version")
	}

	d, err := parseArgon2Params(parts[3])
	if err != nil {
		return nil, err
	}

	if d.salt, err = decodeB64(parts[4]); err != nil || len(d.salt) < int(minSaltLength) {
		return nil, formatError("invalid salt")
	}
	if d.key, err = decodeB64(parts[5]); err != nil || len(d.key) == 0 {
		return nil, formatError("invalid key")
	}
	return d, nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func parseArgon2Params(part string) (*argon2Digest, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, formatError("invalid parameter list")
	}

	var (
		d    argon2Digest
		seen = map[string]bool{}
	)
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return nil, formatError("invalid parameter entry")
		}
		seen[name] = true

		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, formatError("invalid memory parameter")
			}
			d.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, formatError("invalid time parameter")
			}
			d.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, formatError("invalid parallelism parameter")
			}
			d.parallelism = uint8(v)
		default:
			return nil, formatError("unsupported parameter " + strconv.Quote(name))
		}
	}
	return &d, nil
}
