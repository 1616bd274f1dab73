package kennelguard

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/kennelguard/store"
	"go.uber.org/zap"
)

// Login checks credentials and issues a token pair.
//
// Unknown credential ids and wrong passwords both yield
// ErrInvalidCredentials after the same amount of hashing work. An inactive
// identity with a correct password yields ErrUserInactive. When
// Password.UpgradeOnLogin is set, legacy or weaker digests are replaced
// after a successful check.
func (e *Engine) Login(ctx context.Context, credentialID, plain string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	credentialID = strings.ToLower(strings.TrimSpace(credentialID))

	identity, err := e.checkCredentials(ctx, credentialID, plain)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		} else {
			e.metricInc(MetricLoginFailure)
		}
		e.emitAudit(ctx, auditEventLoginFailure, auditSubject{identityID: identity.ID}, err, func() map[string]string {
			return map[string]string{"credential": credentialID}
		})
		return TokenPair{}, err
	}

	pair, err := e.IssueTokens(ctx, identity)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return TokenPair{}, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, auditSubject{identityID: identity.ID}, nil, nil)
	return pair, nil
}

func (e *Engine) checkCredentials(ctx context.Context, credentialID, plain string) (Identity, error) {
	if credentialID == "" || plain == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if err := e.allowLogin(ctx, credentialID); err != nil {
		return Identity{}, err
	}

	identity, err := e.identities.FindByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.burnVerify(plain)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, e.storeFail("login lookup", err)
	}

	ok, err := e.hasher.Verify(plain, identity.PasswordHash)
	if err != nil {
		return identity, e.storeFail("login verify", err)
	}
	if !ok {
		return identity, ErrInvalidCredentials
	}
	if !identity.Active {
		return identity, ErrUserInactive
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeDigest(ctx, identity, plain)
	}
	return identity, nil
}

// burnVerify spends one verification against a throwaway digest so unknown
// credential ids cost the same as wrong passwords.
func (e *Engine) burnVerify(plain string) {
	e.decoyOnce.Do(func() {
		e.decoyDigest, _ = e.hasher.Hash("kennelguard-decoy")
	})
	if e.decoyDigest != "" {
		_, _ = e.hasher.Verify(plain, e.decoyDigest)
	}
}

func (e *Engine) upgradeDigest(ctx context.Context, identity Identity, plain string) {
	stale, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !stale {
		return
	}
	digest, err := e.hasher.Hash(plain)
	if err != nil {
		e.log.Warn("password rehash failed", zap.Int64("identity_id", identity.ID), zap.Error(err))
		return
	}
	if err := e.identities.UpdatePasswordHash(ctx, identity.ID, digest); err != nil {
		e.log.Warn("password rehash store failed", zap.Int64("identity_id", identity.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, auditEventPasswordRehashed, auditSubject{identityID: identity.ID}, nil, nil)
}
