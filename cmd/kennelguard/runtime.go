package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/grpcauth"
	"github.com/MrEthical07/kennelguard/notify"
	"github.com/MrEthical07/kennelguard/password"
	"github.com/MrEthical07/kennelguard/ratelimit"
	"github.com/MrEthical07/kennelguard/store"
	"github.com/MrEthical07/kennelguard/store/postgres"
	"github.com/MrEthical07/kennelguard/store/redisstore"
	"github.com/MrEthical07/kennelguard/store/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// credentialBackend is a relational store that can also be seeded.
type credentialBackend interface {
	kennelguard.CredentialStore
	PutIdentity(ctx context.Context, identity store.Identity) error
	PutAPIKey(ctx context.Context, record store.APIKeyRecord) error
}

type runtime struct {
	settings settings
	log      *zap.Logger

	engine     *kennelguard.Engine
	memLimiter *ratelimit.Memory

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener

	closers []func() error
}

func newRuntime(ctx context.Context, s settings, log *zap.Logger) (_ *runtime, err error) {
	rt := &runtime{settings: s, log: log}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	// -------- STORAGE --------
	backend, err := rt.openCredentialStore(ctx)
	if err != nil {
		return nil, err
	}

	rdb, err := rt.connectRedis(ctx)
	if err != nil {
		return nil, err
	}
	resets := redisstore.NewResetTokens(rdb, s.Redis.Prefix+":rt")

	// -------- RATE LIMITER --------
	var limiter ratelimit.Limiter
	if s.RateLimit.Backend == "memory" {
		rt.memLimiter = ratelimit.NewMemory()
		limiter = rt.memLimiter
	} else {
		limiter = ratelimit.NewRedis(rdb, ratelimit.WithPrefix(s.Redis.Prefix+":rl"))
	}

	// -------- NOTIFIER --------
	var notifier kennelguard.Notifier = notify.NewLogNotifier(log, s.Reset.LinkURL)
	if s.Notify.Backend == "redis" {
		notifier = notify.NewRedisStream(rdb, notify.RedisStreamConfig{
			Stream:  s.Notify.Stream,
			MaxLen:  s.Notify.MaxLen,
			LinkURL: s.Reset.LinkURL,
		})
	}

	// -------- ENGINE --------
	cfg, err := engineConfig(s, log)
	if err != nil {
		return nil, err
	}
	engine, err := kennelguard.New().
		WithConfig(cfg).
		WithCredentialStore(backend).
		WithResetTokenStore(resets).
		WithRateLimiter(limiter).
		WithNotifier(notifier).
		WithAuditSink(kennelguard.NewZapSink(log)).
		WithLogger(log).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.engine = engine
	rt.closers = append(rt.closers, func() error { engine.Close(); return nil })

	if err := seed(ctx, backend, cfg.Password, s.seed, log); err != nil {
		return nil, err
	}

	// -------- SERVERS --------
	rt.httpServer = &http.Server{
		Addr:              s.HTTP.Addr,
		Handler:           newRouter(engine, backend, log),
		ReadHeaderTimeout: s.HTTP.ReadHeaderTimeout,
	}

	if s.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", s.GRPC.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen grpc: %w", err)
		}
		rt.grpcLis = lis
		rt.grpcServer = newGRPCServer(engine)
	}
	return rt, nil
}

func (rt *runtime) openCredentialStore(ctx context.Context) (credentialBackend, error) {
	if dsn := rt.settings.Postgres.DSN; dsn != "" {
		db, err := postgres.Connect(ctx, dsn, rt.settings.Postgres.MaxConns, rt.log)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gorm sql db: %w", err)
		}
		rt.closers = append(rt.closers, sqlDB.Close)
		if err := postgres.RunMigrations(ctx, db, rt.log); err != nil {
			return nil, err
		}
		return postgres.New(db), nil
	}

	st, err := sqlite.Open(ctx, rt.settings.SQLite.Path)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, st.Close)
	rt.log.Info("sqlite opened", zap.String("path", rt.settings.SQLite.Path))
	return st, nil
}

func (rt *runtime) connectRedis(ctx context.Context) (redis.UniversalClient, error) {
	addr := rt.settings.Redis.Addr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		rt.closers = append(rt.closers, func() error { mr.Close(); return nil })
		addr = mr.Addr()
		rt.log.Warn("using embedded miniredis; reset tokens and rate windows are not shared", zap.String("addr", addr))
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: rt.settings.Redis.Password,
		DB:       rt.settings.Redis.DB,
	})
	rt.closers = append(rt.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// grpcPolicy leaves health checks public and requires a bearer token with
// the per-identity budget everywhere else.
func grpcPolicy() grpcauth.Policy {
	return grpcauth.Policy{
		Rules: map[string]grpcauth.Rule{
			healthpb.Health_Check_FullMethodName: {Public: true},
			healthpb.Health_List_FullMethodName:  {Public: true},
			healthpb.Health_Watch_FullMethodName: {Public: true},
		},
		Default: grpcauth.Rule{RateLimit: true},
	}
}

func newGRPCServer(engine *kennelguard.Engine) *grpc.Server {
	policy := grpcPolicy()
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcauth.UnaryServerInterceptor(engine, policy)),
		grpc.ChainStreamInterceptor(grpcauth.StreamServerInterceptor(engine, policy)),
	)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	return srv
}

// run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (rt *runtime) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer rt.close()

	errCh := make(chan error, 2)
	go func() {
		rt.log.Info("http listening", zap.String("addr", rt.settings.HTTP.Addr))
		if err := rt.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if rt.grpcServer != nil {
		go func() {
			rt.log.Info("grpc listening", zap.String("addr", rt.grpcLis.Addr().String()))
			if err := rt.grpcServer.Serve(rt.grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		sweepLoop(loopCtx, rt.engine, rt.settings.Reset.SweepInterval, rt.log)
	}()
	if rt.memLimiter != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			rt.memLimiter.Run(loopCtx, rt.settings.RateLimit.SweepInterval)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		rt.log.Info("shutting down")
	case runErr = <-errCh:
		rt.log.Error("server failed", zap.Error(runErr))
	}

	cancelLoops()
	loops.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.settings.HTTP.ShutdownTimeout)
	defer cancel()
	if err := rt.httpServer.Shutdown(shutdownCtx); err != nil {
		rt.log.Warn("http shutdown", zap.Error(err))
	}
	if rt.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			rt.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			rt.grpcServer.Stop()
		}
	}
	return runErr
}

// close releases resources in reverse acquisition order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.log.Warn("close", zap.Error(err))
		}
	}
	rt.closers = nil
}

// sweepLoop removes expired and used reset tokens every interval.
func sweepLoop(ctx context.Context, engine *kennelguard.Engine, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.SweepResetTokens(ctx)
			if err != nil {
				log.Warn("reset token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("reset tokens swept", zap.Int64("removed", n))
			}
		}
	}
}

// seed inserts the identities and API keys from the config file. Passwords
// are hashed with the engine's cost parameters.
func seed(ctx context.Context, backend credentialBackend, pc kennelguard.PasswordConfig, s seedSettings, log *zap.Logger) error {
	if len(s.Identities) == 0 && len(s.APIKeys) == 0 {
		return nil
	}
	hasher, err := password.New(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
	})
	if err != nil {
		return err
	}

	for _, si := range s.Identities {
		role, err := store.ParseRole(si.Role)
		if err != nil {
			return fmt.Errorf("seed identity %d: %w", si.ID, err)
		}
		digest, err := hasher.Hash(si.Password)
		if err != nil {
			return fmt.Errorf("seed identity %d: %w", si.ID, err)
		}
		active := si.Active == nil || *si.Active
		if err := backend.PutIdentity(ctx, store.Identity{
			ID:           si.ID,
			Role:         role,
			CredentialID: si.Email,
			Active:       active,
			PasswordHash: digest,
		}); err != nil {
			return fmt.Errorf("seed identity %d: %w", si.ID, err)
		}
	}

	for _, sk := range s.APIKeys {
		if err := backend.PutAPIKey(ctx, store.APIKeyRecord{
			ID:           sk.ID,
			KeyHash:      store.HashSecret(sk.Key),
			Active:       true,
			ExpiresAt:    sk.ExpiresAt,
			Permissions:  sk.Permissions,
			RequestLimit: sk.RequestLimit,
			OwnerID:      sk.OwnerID,
		}); err != nil {
			return fmt.Errorf("seed api key %s: %w", sk.ID, err)
		}
	}
	log.Info("seed applied", zap.Int("identities", len(s.Identities)), zap.Int("api_keys", len(s.APIKeys)))
	return nil
}
