// Package memory is an in-process implementation of store.CredentialStore.
//
// A single mutex serializes every mutation, which satisfies the atomicity
// rules for reset-token issue and redemption within one process. It backs
// tests and the development profile of cmd/kennelguard.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/kennelguard/store"
)

// Store is safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	identities   map[int64]store.Identity
	byCredential map[string]int64
	resetByHash  map[string]*store.ResetToken
	resetByUser  map[int64][]*store.ResetToken
	apiKeys      map[string]store.APIKeyRecord
	usage        []store.APIKeyUsage
	fail         error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		identities:   make(map[int64]store.Identity),
		byCredential: make(map[string]int64),
		resetByHash:  make(map[string]*store.ResetToken),
		resetByUser:  make(map[int64][]*store.ResetToken),
		apiKeys:      make(map[string]store.APIKeyRecord),
	}
}

var _ store.CredentialStore = (*Store)(nil)

// PutIdentity inserts or replaces an identity.
func (s *Store) PutIdentity(identity store.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.identities[identity.ID]; ok {
		delete(s.byCredential, normalizeCredential(prev.CredentialID))
	}
	s.identities[identity.ID] = identity
	s.byCredential[normalizeCredential(identity.CredentialID)] = identity.ID
}

// SetActive flips the soft-delete flag of an identity.
func (s *Store) SetActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity, ok := s.identities[id]; ok {
		identity.Active = active
		s.identities[id] = identity
	}
}

// SetRole changes the role of an identity.
func (s *Store) SetRole(id int64, role store.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity, ok := s.identities[id]; ok {
		identity.Role = role
		s.identities[id] = identity
	}
}

// PutAPIKey inserts or replaces an API key by hash.
func (s *Store) PutAPIKey(record store.APIKeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[record.KeyHash] = record
}

// Usage returns a copy of recorded API key usage.
func (s *Store) Usage() []store.APIKeyUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.APIKeyUsage, len(s.usage))
	copy(out, s.usage)
	return out
}

// ResetTokens returns copies of every stored token for identityID, oldest first.
func (s *Store) ResetTokens(identityID int64) []store.ResetToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := s.resetByUser[identityID]
	out := make([]store.ResetToken, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) FindByCredentialID(_ context.Context, credentialID string) (store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return store.Identity{}, err
	}
	id, ok := s.byCredential[normalizeCredential(credentialID)]
	if !ok {
		return store.Identity{}, store.ErrNotFound
	}
	return s.identities[id], nil
}

func (s *Store) FindByID(_ context.Context, id int64) (store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return store.Identity{}, err
	}
	identity, ok := s.identities[id]
	if !ok {
		return store.Identity{}, store.ErrNotFound
	}
	return identity, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id int64, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	identity, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	identity.PasswordHash = digest
	s.identities[id] = identity
	return nil
}

func (s *Store) IssueResetToken(_ context.Context, token store.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	for _, prev := range s.resetByUser[token.IdentityID] {
		prev.Used = true
	}
	stored := token
	s.resetByHash[token.TokenHash] = &stored
	s.resetByUser[token.IdentityID] = append(s.resetByUser[token.IdentityID], &stored)
	return nil
}

func (s *Store) RedeemResetToken(_ context.Context, tokenHash string, now time.Time) (store.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return store.ResetToken{}, err
	}
	token, ok := s.resetByHash[tokenHash]
	if !ok || !token.Live(now) {
		return store.ResetToken{}, store.ErrNotFound
	}
	token.Used = true
	return *token, nil
}

func (s *Store) FindResetTokenByHash(_ context.Context, tokenHash string) (store.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return store.ResetToken{}, err
	}
	token, ok := s.resetByHash[tokenHash]
	if !ok {
		return store.ResetToken{}, store.ErrNotFound
	}
	return *token, nil
}

func (s *Store) InvalidateResetTokens(_ context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	for _, token := range s.resetByUser[identityID] {
		token.Used = true
	}
	return nil
}

func (s *Store) SweepResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return 0, err
	}
	var removed int64
	for hash, token := range s.resetByHash {
		if token.Live(now) {
			continue
		}
		delete(s.resetByHash, hash)
		removed++
	}
	for identityID, tokens := range s.resetByUser {
		kept := tokens[:0]
		for _, token := range tokens {
			if token.Live(now) {
				kept = append(kept, token)
			}
		}
		if len(kept) == 0 {
			delete(s.resetByUser, identityID)
			continue
		}
		s.resetByUser[identityID] = kept
	}
	return removed, nil
}

func (s *Store) FindAPIKeyByHash(_ context.Context, keyHash string) (store.APIKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return store.APIKeyRecord{}, err
	}
	record, ok := s.apiKeys[keyHash]
	if !ok {
		return store.APIKeyRecord{}, store.ErrNotFound
	}
	record.Permissions = append([]string(nil), record.Permissions...)
	return record, nil
}

func (s *Store) RecordAPIKeyUsage(_ context.Context, usage store.APIKeyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	s.usage = append(s.usage, usage)
	return nil
}

// SetFailure makes every subsequent operation fail with err wrapped in
// store.ErrUnavailable. A nil err restores normal behavior.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) failure() error {
	if s.fail == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, s.fail)
}

func normalizeCredential(credentialID string) string {
	return strings.ToLower(strings.TrimSpace(credentialID))
}
