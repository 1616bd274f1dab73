package kennelguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "Ada@Kennel.test"); err != nil {
		t.Fatalf("request: %v", err)
	}
	link := env.notifier.lastLink(t)
	if link.identityID != adopterID {
		t.Fatalf("link sent to %d", link.identityID)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, link.token, "brand new password"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.engine.Login(ctx, "ada@kennel.test", "brand new password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := env.engine.Login(ctx, "ada@kennel.test", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if len(env.notifier.notices) != 1 {
		t.Fatalf("expected one changed notice, got %d", len(env.notifier.notices))
	}

	if err := env.engine.ConfirmPasswordReset(ctx, link.token, "another new password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("second use should fail, got %v", err)
	}
}

func TestRequestPasswordResetUnknownLooksLikeSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "ghost@kennel.test"); err != nil {
		t.Fatalf("expected nil for unknown credential, got %v", err)
	}
	env.store.SetActive(sponsorID, false)
	if err := env.engine.RequestPasswordReset(ctx, "sam@kennel.test"); err != nil {
		t.Fatalf("expected nil for inactive credential, got %v", err)
	}
	if len(env.notifier.links) != 0 {
		t.Fatalf("no link should be sent, got %d", len(env.notifier.links))
	}
}

func TestRequestPasswordResetThrottled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Reset.RequestLimit = 2
		c.Reset.RequestWindow = time.Hour
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.engine.RequestPasswordReset(ctx, "ada@kennel.test"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := env.engine.RequestPasswordReset(ctx, "ada@kennel.test"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestIssueResetTokenRetiresPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.IssueResetToken(ctx, adopterID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.engine.IssueResetToken(ctx, adopterID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Token == second.Token {
		t.Fatal("tokens must differ")
	}
	if !second.ExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", second.ExpiresAt)
	}

	if _, err := env.engine.RedeemResetToken(ctx, first.Token); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("first token should be retired, got %v", err)
	}
	id, err := env.engine.RedeemResetToken(ctx, second.Token)
	if err != nil || id != adopterID {
		t.Fatalf("expected redeem for %d, got %d %v", adopterID, id, err)
	}
}

func TestRedeemResetTokenExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.engine.IssueResetToken(ctx, adopterID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.clock.Advance(time.Hour)

	if _, err := env.engine.RedeemResetToken(ctx, ticket.Token); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestRedeemResetTokenSingleUseConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.engine.IssueResetToken(ctx, adopterID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := env.engine.RedeemResetToken(ctx, ticket.Token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one redemption, got %d", wins)
	}
}

func TestConfirmPasswordResetWeakKeepsToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.engine.IssueResetToken(ctx, adopterID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, ticket.Token, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, ticket.Token, "long enough now"); err != nil {
		t.Fatalf("token should survive a weak attempt: %v", err)
	}
}

func TestSweepResetTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.IssueResetToken(ctx, adopterID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.engine.IssueResetToken(ctx, sponsorID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.clock.Advance(2 * time.Hour)

	n, err := env.engine.SweepResetTokens(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n < 2 {
		t.Fatalf("expected at least 2 swept, got %d", n)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricResetTokensSwept]; got != uint64(n) {
		t.Fatalf("expected swept metric %d, got %d", n, got)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		current string
		next    string
		want    error
	}{
		{"wrong current", "not the password", "brand new password", ErrInvalidCredentials},
		{"same password", testPassword, testPassword, ErrSamePassword},
		{"too short", testPassword, "tiny", ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.engine.ChangePassword(ctx, adopterID, tt.current, tt.next); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := env.engine.IssueResetToken(ctx, adopterID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, adopterID, testPassword, "brand new password"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if tokens := env.store.ResetTokens(adopterID); len(tokens) != 0 {
		for _, tok := range tokens {
			if tok.Live(env.clock.Now()) {
				t.Fatal("outstanding reset tokens must be invalidated")
			}
		}
	}
	if _, err := env.engine.Login(ctx, "ada@kennel.test", "brand new password"); err != nil {
		t.Fatalf("login with changed password: %v", err)
	}
}

func TestChangePasswordInactive(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetActive(adopterID, false)

	err := env.engine.ChangePassword(context.Background(), adopterID, testPassword, "brand new password")
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}
