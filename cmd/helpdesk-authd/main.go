// Command helpdesk-authd runs the helpdesk authentication service: Postgres
// for credentials, Redis for sessions (with an in-process fallback), and the
// auth HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/helpdeskd/authkit"
	"github.com/helpdeskd/authkit/audit"
	"github.com/helpdeskd/authkit/httpapi"
	"github.com/helpdeskd/authkit/internal/config"
	"github.com/helpdeskd/authkit/password"
	"github.com/helpdeskd/authkit/pgstore"
	"github.com/helpdeskd/authkit/store"
	"github.com/helpdeskd/authkit/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Postgres is the credential store; without it the service cannot
	// authenticate anyone, so an unreachable database is fatal.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("postgres unreachable: %v", err)
	}

	users := pgstore.New(db)
	if err := users.EnsureSchema(ctx); err != nil {
		log.Fatalf("postgres schema: %v", err)
	}

	sessions := buildSessionStore(ctx, cfg)
	defer sessions.Close()

	engine, err := token.NewEngine(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     "helpdesk-api",
		Audience:   "helpdesk-users",
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		log.Fatalf("token engine: %v", err)
	}

	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatalf("password hasher: %v", err)
	}

	auditor := audit.NewDispatcher(audit.Config{
		Enabled:    true,
		BufferSize: cfg.AuditBufferSize,
		DropIfFull: true,
	}, audit.NewJSONWriterSink(os.Stdout))
	defer auditor.Close()

	manager, err := authkit.New(authkit.Config{
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		SessionTTL:         cfg.SessionTTL,
		MaxInactivity:      cfg.SessionMaxIdle,
		SweepInterval:      cfg.SweepInterval,
		MaxLoginAttempts:   cfg.MaxLoginAttempts,
		AttemptWindow:      cfg.AttemptWindow,
		LockoutDuration:    cfg.LockoutDuration,
	}, authkit.Deps{
		Tokens:   engine,
		Sessions: sessions,
		Users:    users,
		Hasher:   hasher,
		Audit:    auditor,
	})
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	defer manager.Close()

	if cfg.IsDev() {
		seedDemoAdmin(ctx, manager)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpapi.New(manager, cfg.IsDev()).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("helpdesk-authd listening on %s (env=%s)", cfg.ListenAddr, cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// buildSessionStore probes Redis. Reachable Redis gets wrapped with the
// in-memory fallback; unreachable Redis degrades to memory-only with a
// warning, keeping auth available while ops restores the backend.
func buildSessionStore(ctx context.Context, cfg config.Config) store.Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	primary := store.NewRedis(client, "helpdesk:", cfg.SessionTTL)
	if err := primary.Ping(ctx); err != nil {
		log.Printf("warning: redis unreachable at %s, using in-memory session store: %v", cfg.RedisAddr, err)
		_ = primary.Close()
		return store.NewMemory(cfg.SessionTTL)
	}

	return store.NewFailover(primary, store.NewMemory(cfg.SessionTTL))
}

// seedDemoAdmin creates admin@helpdesk.local with a random one-time password
// printed to the log. Dev mode only; registration is the production path.
func seedDemoAdmin(ctx context.Context, manager *authkit.Manager) {
	const email = "admin@helpdesk.local"

	pass, err := password.GenerateRandom(20)
	if err != nil {
		log.Printf("demo admin: generate password: %v", err)
		return
	}

	if _, err := manager.Register(ctx, email, pass, authkit.RoleAdmin, authkit.RequestMeta{}); err != nil {
		if errors.Is(err, authkit.ErrUserExists) {
			return
		}
		log.Printf("demo admin: %v", err)
		return
	}

	log.Printf("demo admin seeded: %s / %s (change this password immediately)", email, pass)
}
