package permission

import (
	"errors"
	"strings"
	"sync"
)

// Wildcard grants every permission.
const Wildcard = "*"

var (
	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("permission: registry frozen")
	// ErrLimit is returned when all 63 named bits are taken.
	ErrLimit = errors.New("permission: limit exceeded")
)

// Registry maps permission names to bit positions.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry returns an empty registry that already knows the wildcard.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: map[string]int{Wildcard: wildcardBit},
		bitToName: map[int]string{wildcardBit: Wildcard},
	}
}

// Register assigns the next free bit to name. Registering a known name
// returns its existing bit.
func (r *Registry) Register(name string) (int, error) {
	name = normalize(name)
	if name == "" {
		return -1, errors.New("permission: name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bit, ok := r.nameToBit[name]; ok {
		return bit, nil
	}
	if r.frozen {
		return -1, ErrFrozen
	}
	next := len(r.nameToBit) - 1
	if next >= wildcardBit {
		return -1, ErrLimit
	}
	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Bit returns the bit for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[normalize(name)]
	return bit, ok
}

// Name returns the name assigned to bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Count returns the number of named permissions, excluding the wildcard.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit) - 1
}

// Mask builds a mask from names. Unregistered names are returned separately
// and contribute no bits.
func (r *Registry) Mask(names []string) (Mask64, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		mask    Mask64
		unknown []string
	)
	for _, name := range names {
		bit, ok := r.nameToBit[normalize(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		mask = mask.With(bit)
	}
	return mask, unknown
}

// Missing lists, in bit order, the names required grants that have does not.
func (r *Registry) Missing(have, required Mask64) []string {
	if have.Covers(required) {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for bit := 0; bit < wildcardBit; bit++ {
		if required&(1<<bit) == 0 || have&(1<<bit) != 0 {
			continue
		}
		out = append(out, r.bitToName[bit])
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
