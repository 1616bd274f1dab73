package flows

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/kennelguard/store"
	"github.com/MrEthical07/kennelguard/store/memory"
)

var (
	errNotReady = errors.New("not ready")
	errInvalid  = errors.New("reset invalid")
	errNotFound = errors.New("not found")
	errInactive = errors.New("inactive")
	errWeak     = errors.New("weak")
	errCreds    = errors.New("creds")
	errSame     = errors.New("same")
	errOutage   = errors.New("outage")
)

// plainHash stands in for the password hasher: digests are "h:" + plain.
func plainHash(p string) (string, error) { return "h:" + p, nil }

func plainVerify(p, d string) (bool, error) {
	if len(d) < 2 || d[:2] != "h:" {
		return false, errors.New("bad digest")
	}
	return d == "h:"+p, nil
}

type resetFixture struct {
	store   *memory.Store
	now     time.Time
	tokens  atomic.Int64
	links   []string
	notices int
	logged  []string
	deps    ResetDeps
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		store: memory.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.PutIdentity(store.Identity{ID: 1, Role: store.RoleAdopter, CredentialID: "ana@example.com", Active: true, PasswordHash: "h:oldpassword"})
	f.store.PutIdentity(store.Identity{ID: 2, Role: store.RoleSponsor, CredentialID: "gone@example.com", Active: false, PasswordHash: "h:x"})

	f.deps = ResetDeps{
		TokenTTL:          time.Hour,
		MinPasswordLength: 8,
		Now:               func() time.Time { return f.now },
		NewRawToken: func() (string, error) {
			return "raw-" + strconv.FormatInt(f.tokens.Add(1), 10), nil
		},
		HashToken:          store.HashSecret,
		NewID:              func() string { return "id-" + strconv.FormatInt(f.tokens.Load(), 10) },
		FindByID:           f.store.FindByID,
		FindByCredentialID: f.store.FindByCredentialID,
		UpdatePasswordHash: f.store.UpdatePasswordHash,
		HashPassword:       plainHash,
		IssueToken:         f.store.IssueResetToken,
		RedeemToken:        f.store.RedeemResetToken,
		InvalidateTokens:   f.store.InvalidateResetTokens,
		SendResetLink: func(_ context.Context, id store.Identity, raw string) error {
			f.links = append(f.links, raw)
			return nil
		},
		SendChangedNotice: func(context.Context, store.Identity) error {
			f.notices++
			return nil
		},
		StoreFailure: func(op string, err error) error {
			f.logged = append(f.logged, op)
			return errors.Join(errOutage, err)
		},
		LogFailure: func(op string, _ error) { f.logged = append(f.logged, op) },
		Errors: ResetErrors{
			EngineNotReady:    errNotReady,
			ResetTokenInvalid: errInvalid,
			UserNotFound:      errNotFound,
			UserInactive:      errInactive,
			WeakPassword:      errWeak,
		},
	}
	return f
}

func TestIssueRetiresPreviousToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	first, err := RunIssueResetToken(ctx, 1, f.deps)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := RunIssueResetToken(ctx, 1, f.deps)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !second.ExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", second.ExpiresAt)
	}

	if _, err := RunRedeemResetToken(ctx, first.Token, f.deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected first token invalid, got %v", err)
	}
	identity, err := RunRedeemResetToken(ctx, second.Token, f.deps)
	if err != nil || identity.ID != 1 {
		t.Fatalf("expected redeem for identity 1, got %+v %v", identity, err)
	}
	if _, err := RunRedeemResetToken(ctx, second.Token, f.deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected replay invalid, got %v", err)
	}
}

func TestIssueRejectsMissingAndInactive(t *testing.T) {
	f := newResetFixture(t)
	if _, err := RunIssueResetToken(context.Background(), 99, f.deps); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := RunIssueResetToken(context.Background(), 2, f.deps); !errors.Is(err, errInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
}

func TestRedeemExpiredToken(t *testing.T) {
	f := newResetFixture(t)
	ticket, err := RunIssueResetToken(context.Background(), 1, f.deps)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.now = f.now.Add(time.Hour)
	if _, err := RunRedeemResetToken(context.Background(), ticket.Token, f.deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected expired token invalid, got %v", err)
	}
}

func TestRedeemInactiveOwner(t *testing.T) {
	f := newResetFixture(t)
	ticket, err := RunIssueResetToken(context.Background(), 1, f.deps)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.store.SetActive(1, false)
	if _, err := RunRedeemResetToken(context.Background(), ticket.Token, f.deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid for inactive owner, got %v", err)
	}
}

func TestRedeemStoreOutageIsNotInvalid(t *testing.T) {
	f := newResetFixture(t)
	ticket, err := RunIssueResetToken(context.Background(), 1, f.deps)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.store.SetFailure(errors.New("connection reset"))
	_, err = RunRedeemResetToken(context.Background(), ticket.Token, f.deps)
	if !errors.Is(err, errOutage) || errors.Is(err, errInvalid) {
		t.Fatalf("expected outage, got %v", err)
	}
}

func TestRequestPasswordResetEnumerationSafe(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	for _, cred := range []string{"ana@example.com", "nobody@example.com", "gone@example.com", "  "} {
		if err := RunRequestPasswordReset(ctx, cred, f.deps); err != nil {
			t.Fatalf("request %q: %v", cred, err)
		}
	}
	if len(f.links) != 1 {
		t.Fatalf("expected exactly one reset link, got %d", len(f.links))
	}
	if _, err := RunRedeemResetToken(ctx, f.links[0], f.deps); err != nil {
		t.Fatalf("sent link should redeem: %v", err)
	}
}

func TestRequestPasswordResetThrottle(t *testing.T) {
	f := newResetFixture(t)
	limited := errors.New("limited")
	var seen []string
	f.deps.AllowRequest = func(_ context.Context, cred string) error {
		seen = append(seen, cred)
		return limited
	}
	if err := RunRequestPasswordReset(context.Background(), " Ana@Example.com ", f.deps); !errors.Is(err, limited) {
		t.Fatalf("expected throttle error, got %v", err)
	}
	if len(seen) != 1 || seen[0] != "ana@example.com" {
		t.Fatalf("expected normalized credential, got %v", seen)
	}
	if len(f.links) != 0 {
		t.Fatal("throttled request must not send a link")
	}
}

func TestRequestPasswordResetNotifierFailureHidden(t *testing.T) {
	f := newResetFixture(t)
	f.deps.SendResetLink = func(context.Context, store.Identity, string) error { return errors.New("smtp down") }
	if err := RunRequestPasswordReset(context.Background(), "ana@example.com", f.deps); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(f.logged) != 1 || f.logged[0] != "reset link notify" {
		t.Fatalf("expected logged notifier failure, got %v", f.logged)
	}
}

func TestConfirmPasswordReset(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	ticket, err := RunIssueResetToken(ctx, 1, f.deps)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := RunConfirmPasswordReset(ctx, ticket.Token, "short", f.deps); !errors.Is(err, errWeak) {
		t.Fatalf("expected weak, got %v", err)
	}
	// The weak attempt must not burn the token.
	if err := RunConfirmPasswordReset(ctx, ticket.Token, "a-much-better-one", f.deps); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	identity, _ := f.store.FindByID(ctx, 1)
	if identity.PasswordHash != "h:a-much-better-one" {
		t.Fatalf("password not updated: %q", identity.PasswordHash)
	}
	if f.notices != 1 {
		t.Fatalf("expected one changed notice, got %d", f.notices)
	}
	if err := RunConfirmPasswordReset(ctx, ticket.Token, "another-password", f.deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected reuse invalid, got %v", err)
	}
}

func newChangeDeps(s *memory.Store, notices *int, logged *[]string) ChangeDeps {
	return ChangeDeps{
		MinPasswordLength:  8,
		FindByID:           s.FindByID,
		UpdatePasswordHash: s.UpdatePasswordHash,
		VerifyPassword:     plainVerify,
		HashPassword:       plainHash,
		InvalidateTokens:   s.InvalidateResetTokens,
		SendChangedNotice: func(context.Context, store.Identity) error {
			*notices++
			return errors.New("mailer down")
		},
		StoreFailure: func(_ string, err error) error { return errors.Join(errOutage, err) },
		LogFailure:   func(op string, _ error) { *logged = append(*logged, op) },
		Errors: ChangeErrors{
			EngineNotReady:     errNotReady,
			UserNotFound:       errNotFound,
			UserInactive:       errInactive,
			InvalidCredentials: errCreds,
			SamePassword:       errSame,
			WeakPassword:       errWeak,
		},
	}
}

func TestRunChangePasswordOrder(t *testing.T) {
	s := memory.New()
	s.PutIdentity(store.Identity{ID: 1, Role: store.RoleAdopter, CredentialID: "a@example.com", Active: true, PasswordHash: "h:currentpw"})
	s.PutIdentity(store.Identity{ID: 2, Role: store.RoleAdopter, CredentialID: "b@example.com", Active: false, PasswordHash: "h:currentpw"})
	s.PutIdentity(store.Identity{ID: 3, Role: store.RoleAdopter, CredentialID: "c@example.com", Active: true, PasswordHash: "garbage"})

	var notices int
	var logged []string
	deps := newChangeDeps(s, &notices, &logged)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      int64
		current string
		next    string
		want    error
	}{
		{"missing identity", 9, "currentpw", "newpassword", errNotFound},
		{"inactive identity", 2, "currentpw", "newpassword", errInactive},
		{"wrong current", 1, "nope", "newpassword", errCreds},
		{"wrong current beats weak", 1, "nope", "x", errCreds},
		{"same password", 1, "currentpw", "currentpw", errSame},
		{"weak password", 1, "currentpw", "short", errWeak},
		{"unreadable digest", 3, "currentpw", "newpassword", errOutage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := RunChangePassword(ctx, tc.id, tc.current, tc.next, deps)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if err := RunChangePassword(ctx, 1, "currentpw", "brand-new-pw", deps); err != nil {
		t.Fatalf("change: %v", err)
	}
	identity, _ := s.FindByID(ctx, 1)
	if identity.PasswordHash != "h:brand-new-pw" {
		t.Fatalf("digest not updated: %q", identity.PasswordHash)
	}
	if notices != 1 || len(logged) != 1 || logged[0] != "password changed notify" {
		t.Fatalf("notifier failure must be logged, not returned: notices=%d logged=%v", notices, logged)
	}
}
