package kennelguard

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/kennelguard/password"
	"github.com/MrEthical07/kennelguard/store/memory"
)

const (
	testPassword = "correct horse battery"
	adopterID    = int64(7)
	adminID      = int64(1)
	sponsorID    = int64(9)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentLink struct {
	identityID int64
	token      string
}

type recordingNotifier struct {
	mu       sync.Mutex
	links    []sentLink
	notices  []int64
	linkErr  error
	notifErr error
}

func (n *recordingNotifier) SendResetLink(_ context.Context, identity Identity, raw string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, sentLink{identityID: identity.ID, token: raw})
	return n.linkErr
}

func (n *recordingNotifier) SendPasswordChangedNotice(_ context.Context, identity Identity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, identity.ID)
	return n.notifErr
}

func (n *recordingNotifier) lastLink(t *testing.T) sentLink {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.links) == 0 {
		t.Fatal("expected a reset link to be sent")
	}
	return n.links[len(n.links)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessKey = []byte(strings.Repeat("a", 32))
	cfg.Token.RefreshKey = []byte(strings.Repeat("r", 32))
	cfg.Token.AccessTTL = 15 * time.Minute
	cfg.Token.RefreshTTL = 24 * time.Hour
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.UpgradeOnLogin = false
	return cfg
}

type testEnv struct {
	engine   *Engine
	store    *memory.Store
	clock    *fakeClock
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return buildTestEnv(t, nil, mutate...)
}

// buildTestEnv lets configure add collaborators before Build.
func buildTestEnv(t *testing.T, configure func(*Builder, *testEnv), mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		store:    memory.New(),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	digest, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	env.store.PutIdentity(Identity{ID: adminID, Role: RoleAdmin, CredentialID: "admin@kennel.test", Active: true, PasswordHash: digest})
	env.store.PutIdentity(Identity{ID: adopterID, Role: RoleAdopter, CredentialID: "ada@kennel.test", Active: true, PasswordHash: digest})
	env.store.PutIdentity(Identity{ID: sponsorID, Role: RoleSponsor, CredentialID: "sam@kennel.test", Active: true, PasswordHash: digest})

	b := New().
		WithConfig(cfg).
		WithCredentialStore(env.store).
		WithNotifier(env.notifier).
		WithClock(env.clock.Now)
	if configure != nil {
		configure(b, env)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) identity(t *testing.T, id int64) Identity {
	t.Helper()
	identity, err := env.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find identity %d: %v", id, err)
	}
	return identity
}

func (env *testEnv) accessToken(t *testing.T, id int64) string {
	t.Helper()
	pair, err := env.engine.IssueTokens(context.Background(), env.identity(t, id))
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	return pair.AccessToken
}

type mapAttributes struct {
	route map[string]string
	query map[string]string
	body  map[string]string
}

func (a mapAttributes) RouteParam(name string) string { return a.route[name] }

func (a mapAttributes) QueryParam(name string) string { return a.query[name] }

func (a mapAttributes) BodyField(name string) string { return a.body[name] }
