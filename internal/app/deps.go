package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/crypto/bcrypt"

	"github.com/linguachat/backend/internal/accounts"
	"github.com/linguachat/backend/internal/auth"
	"github.com/linguachat/backend/internal/config"
	"github.com/linguachat/backend/internal/db"
	"github.com/linguachat/backend/internal/friends"
	"github.com/linguachat/backend/internal/handlers"
	"github.com/linguachat/backend/internal/identity"
	"github.com/linguachat/backend/internal/mail"
	"github.com/linguachat/backend/internal/middleware"
	"github.com/linguachat/backend/internal/otc"
	"github.com/linguachat/backend/internal/password"
	"github.com/linguachat/backend/internal/repositories"
	"github.com/linguachat/backend/internal/storage"
)

type cleanupFunc func(ctx context.Context) error

type stores struct {
	users   repositories.UserRepository
	friends repositories.FriendRepository
	ping    handlers.HealthCheck
	close   func(ctx context.Context) error
}

// openStores connects the credential and relationship stores selected by
// STORE_DRIVER.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		return stores{
			users:   repositories.NewMemoryUserRepository(),
			friends: repositories.NewMemoryFriendRepository(),
			ping:    func(context.Context) error { return nil },
			close:   func(context.Context) error { return nil },
		}, nil
	case config.StoreDriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return stores{}, err
		}
		database := client.Database(cfg.Mongo.Database)

		users, err := repositories.NewMongoUserRepository(ctx, database)
		if err != nil {
			_ = client.Disconnect(ctx)
			return stores{}, err
		}
		edges, err := repositories.NewMongoFriendRepository(ctx, database)
		if err != nil {
			_ = client.Disconnect(ctx)
			return stores{}, err
		}
		return stores{
			users:   users,
			friends: edges,
			ping:    func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
			close:   client.Disconnect,
		}, nil
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return stores{}, err
		}
		return stores{
			users:   repositories.NewPostgresUserRepository(pool),
			friends: repositories.NewPostgresFriendRepository(pool),
			ping:    pool.Ping,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil
	}
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, cleanupFunc, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	cleanups := []cleanupFunc{st.close}
	fail := func(err error) (handlers.Dependencies, cleanupFunc, error) {
		_ = runCleanups(ctx, cleanups)
		return handlers.Dependencies{}, nil, err
	}

	issuer, err := auth.NewIssuer(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return fail(err)
	}

	health := map[string]handlers.HealthCheck{"store": st.ping}

	retries, redisClient := retryQueue(cfg.Redis)
	if redisClient != nil {
		cleanups = append(cleanups, func(context.Context) error { return redisClient.Close() })
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	directory, err := identityDirectory(cfg.Stream, logger)
	if err != nil {
		return fail(err)
	}
	dispatcher := identity.NewDispatcher(
		identity.NewDedupingGateway(directory, cfg.Stream.DedupeTTL),
		retries,
		identity.DispatcherConfig{
			QueueSize:     cfg.Stream.QueueSize,
			Workers:       cfg.Stream.Workers,
			Timeout:       cfg.Stream.Timeout,
			RetryInterval: cfg.Stream.RetryInterval,
			MaxAttempts:   cfg.Stream.MaxAttempts,
			Source:        st.users,
		},
		logger,
	)
	// Drain the workers before the retry queue connection goes away.
	cleanups = append([]cleanupFunc{dispatcher.Shutdown}, cleanups...)

	sender, err := mailSender(ctx, cfg.Mail, logger)
	if err != nil {
		return fail(err)
	}

	codes := &otc.Engine{Store: st.users, TTL: cfg.Codes.TTL}
	hasher := password.NewHasher(bcrypt.DefaultCost)

	accountService := &accounts.Auth{
		Users:     st.users,
		Codes:     codes,
		Sessions:  issuer,
		Passwords: hasher,
		Identity:  dispatcher,
		Mail:      sender,
	}
	avatars, err := storage.NewAvatarStore(ctx, cfg.Avatars)
	switch {
	case err == nil:
		accountService.Avatars = avatars
	case errors.Is(err, storage.ErrUnavailable):
		logger.Info("avatar uploads disabled, no bucket configured")
	default:
		return fail(err)
	}

	deps := handlers.Dependencies{
		Accounts: accountService,
		Resets: &accounts.PasswordReset{
			Users:     st.users,
			Codes:     codes,
			Passwords: hasher,
			Mail:      sender,
			GrantTTL:  cfg.Codes.ResetGrantTTL,
		},
		Friends: &friends.Service{
			Users:          st.users,
			Edges:          st.friends,
			Identity:       dispatcher,
			RecommendLimit: cfg.RecommendLimit,
		},
		Tokens:         issuer,
		SecureCookies:  cfg.Production(),
		MaxAvatarBytes: cfg.Avatars.MaxBytes,
		Health:         health,
	}
	if cfg.RateLimit.Requests > 0 {
		deps.Limiter = middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, 0)
		if deps.TrustedProxies, err = middleware.ParseProxies(cfg.RateLimit.TrustedProxies); err != nil {
			return fail(err)
		}
	}

	return deps, func(ctx context.Context) error { return runCleanups(ctx, cleanups) }, nil
}

func runCleanups(ctx context.Context, cleanups []cleanupFunc) error {
	var errs []error
	for _, cleanup := range cleanups {
		if err := cleanup(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// retryQueue returns the Redis-backed queue when an address is configured,
// together with its client, and an in-memory queue otherwise.
func retryQueue(cfg config.Redis) (identity.RetryQueue, *redis.Client) {
	if cfg.Addr == "" {
		return identity.NewMemoryRetryQueue(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return identity.NewRedisRetryQueue(client, cfg.QueueKey), client
}

func identityDirectory(cfg config.Stream, logger *slog.Logger) (identity.Gateway, error) {
	if cfg.APIKey == "" && cfg.APISecret == "" {
		logger.Warn("stream credentials not configured, identity sync only logs")
		return identity.LogDirectory{Logger: logger}, nil
	}
	directory, err := identity.NewStreamDirectory(cfg.BaseURL, cfg.APIKey, cfg.APISecret, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("configure stream directory: %w", err)
	}
	return directory, nil
}

func mailSender(ctx context.Context, cfg config.Mail, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.Driver {
	case "ses":
		return mail.NewSESSender(ctx, cfg.Region, cfg.From, cfg.Timeout)
	case "log", "":
		return mail.LogSender{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported MAIL_DRIVER %q", cfg.Driver)
	}
}
