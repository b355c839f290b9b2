package internal

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/authguard/internal/config"
	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/idp"
	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/recovery"
	"github.com/dgellow/authguard/internal/server"
	"github.com/dgellow/authguard/internal/session"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// AuthGuard is the assembled application
type AuthGuard struct {
	config     config.Config
	httpServer *server.HTTPServer
	store      session.Store
	cleaner    *session.Cleaner
}

// New builds every dependency from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg config.Config) (*AuthGuard, error) {
	log.LogInfoWithFields("authguard", "Building application", map[string]any{
		"baseURL":  cfg.Server.BaseURL,
		"provider": cfg.Auth.Provider.Type,
		"storage":  string(cfg.Sessions.Storage),
	})

	keys, err := deriveKeys(cfg.Auth)
	if err != nil {
		return nil, err
	}

	store, err := setupStore(ctx, cfg.Sessions, keys.tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to setup session storage: %w", err)
	}

	provider, err := idp.NewProvider(cfg.Auth.Provider, nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	handler := server.NewServer(server.Options{
		Name:           cfg.Server.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedDomains: cfg.Auth.AllowedDomains,
		Provider:       provider,
		Sessions:       session.NewManager(store, keys.cookie, cfg.Auth.SessionTTL),
		StateSigner:    crypto.NewTokenSigner(keys.state, idp.StateTTL),
		CSRF:           crypto.NewCSRFProtection(keys.csrf, cfg.Auth.CSRFTTL),
		Recovery:       recovery.New(),
	})

	var cleaner *session.Cleaner
	if sweeper, ok := store.(session.Sweeper); ok && cfg.Sessions.CleanupInterval > 0 {
		cleaner = session.NewCleaner(sweeper, cfg.Sessions.CleanupInterval)
	}

	return &AuthGuard{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		store:      store,
		cleaner:    cleaner,
	}, nil
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// HTTP server fails
func (a *AuthGuard) Run(ctx context.Context) error {
	log.LogInfoWithFields("authguard", "Starting application", map[string]any{
		"addr": a.config.Server.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if a.cleaner != nil {
		a.cleaner.Start(gctx)
	}

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("authguard", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()

	if a.cleaner != nil {
		a.cleaner.Stop()
	}
	if closeErr := a.store.Close(); closeErr != nil {
		log.LogErrorWithFields("authguard", "Failed to close session storage", map[string]any{
			"error": closeErr.Error(),
		})
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogErrorWithFields("authguard", "Shut down due to error", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	log.LogInfoWithFields("authguard", "Application shutdown complete", nil)
	return nil
}

type derivedKeys struct {
	cookie []byte
	state  []byte
	csrf   []byte
	tokens []byte
}

func deriveKeys(auth config.AuthConfig) (derivedKeys, error) {
	var keys derivedKeys
	var err error
	signing := []byte(auth.SigningKey)

	if keys.cookie, err = crypto.DeriveKey(signing, crypto.PurposeSessionCookie); err != nil {
		return keys, fmt.Errorf("signingKey: %w", err)
	}
	if keys.state, err = crypto.DeriveKey(signing, crypto.PurposeOAuthState); err != nil {
		return keys, fmt.Errorf("signingKey: %w", err)
	}
	if keys.csrf, err = crypto.DeriveKey(signing, crypto.PurposeCSRF); err != nil {
		return keys, fmt.Errorf("signingKey: %w", err)
	}
	if keys.tokens, err = crypto.DeriveKey([]byte(auth.EncryptionKey), crypto.PurposeTokenStorage); err != nil {
		return keys, fmt.Errorf("encryptionKey: %w", err)
	}
	return keys, nil
}

// setupStore creates the configured session store. Stored tokens are
// encrypted with tokenKey in every backend.
func setupStore(ctx context.Context, cfg config.SessionsConfig, tokenKey []byte) (session.Store, error) {
	encryptor, err := crypto.NewEncryptor(tokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	switch cfg.Storage {
	case config.StorageRedis:
		log.LogInfoWithFields("storage", "Using Redis session storage", map[string]any{
			"addr":   cfg.Redis.Addr,
			"db":     cfg.Redis.DB,
			"prefix": cfg.Redis.Prefix,
		})
		client, err := session.DialRedis(ctx, cfg.Redis.Addr, string(cfg.Redis.Password), cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		store, err := session.NewRedisStore(client, cfg.Redis.Prefix, encryptor)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil

	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore session storage", map[string]any{
			"project":    cfg.Firestore.Project,
			"database":   cfg.Firestore.Database,
			"collection": cfg.Firestore.Collection,
		})
		return session.NewFirestoreStore(ctx, cfg.Firestore.Project, cfg.Firestore.Database, cfg.Firestore.Collection, encryptor)

	case config.StorageMemory:
		log.LogInfoWithFields("storage", "Using in-memory session storage", nil)
		return session.NewMemoryStore(encryptor)

	default:
		return nil, fmt.Errorf("unknown session storage %q", cfg.Storage)
	}
}
