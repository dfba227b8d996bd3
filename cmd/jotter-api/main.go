package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/internal/config"
	"github.com/MarcoPoloResearchLab/jotter/internal/database"
	"github.com/MarcoPoloResearchLab/jotter/internal/logging"
	"github.com/MarcoPoloResearchLab/jotter/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/internal/server"
	"github.com/MarcoPoloResearchLab/jotter/internal/sessions"
	"github.com/MarcoPoloResearchLab/jotter/internal/users"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jotter-api",
		Short: "Jotter notes backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("client-url", defaults.GetString("http.client_url"), "Origin of the web client")
	flags.String("login-url", defaults.GetString("http.login_url"), "Login page of the web client")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("session-store", defaults.GetString("session.store"), "Session store (database, redis)")
	flags.Duration("session-ttl", defaults.GetDuration("session.ttl"), "Session lifetime")
	flags.Bool("cookie-secure", defaults.GetBool("session.cookie_secure"), "Mark session cookies Secure")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis session store")
	flags.String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	flags.String("google-redirect-url", defaults.GetString("google.redirect_url"), "Google OAuth redirect URL")
	flags.String("github-client-id", defaults.GetString("github.client_id"), "GitHub OAuth client ID")
	flags.String("github-redirect-url", defaults.GetString("github.redirect_url"), "GitHub OAuth redirect URL")
	flags.String("state-secret", "", "OAuth state signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.client_url", "client-url")
	bindFlag(cmd, "http.login_url", "login-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.store", "session-store")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "session.cookie_secure", "cookie-secure")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.redirect_url", "google-redirect-url")
	bindFlag(cmd, "github.client_id", "github-client-id")
	bindFlag(cmd, "github.redirect_url", "github-redirect-url")
	bindFlag(cmd, "oauth.state_secret", "state-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionStore, err := buildSessionStore(signalCtx, appConfig, db, logger)
	if err != nil {
		return err
	}

	providers, err := buildProviders(appConfig, logger)
	if err != nil {
		return err
	}

	stateSigner, err := auth.NewStateSigner(auth.StateSignerConfig{
		SigningSecret: []byte(appConfig.OAuthStateSecret),
	})
	if err != nil {
		return err
	}

	guard, err := auth.NewGuard(auth.GuardConfig{
		Sessions:   sessionStore,
		CookieName: appConfig.SessionCookieName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	identities, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Providers:    providers,
		StateSigner:  stateSigner,
		Guard:        guard,
		Sessions:     sessionStore,
		Identities:   identities,
		NotesService: notesService,
		Metrics:      server.NewMetrics(),
		RateLimiter: server.NewRateLimiter(server.RateLimiterConfig{
			RequestsPerMinute: appConfig.RequestsPerMinute,
			Burst:             appConfig.RequestBurst,
		}),
		HealthCheck: func(ctx context.Context) error {
			return database.Ping(ctx, db)
		},
		ClientURL: appConfig.ClientURL,
		LoginURL:  appConfig.LoginURL,
		Cookie: server.CookieSettings{
			Secure: appConfig.SessionCookieSecure,
			TTL:    appConfig.SessionTTL,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("session_store", appConfig.SessionStore),
			zap.Strings("providers", providers.Names()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildSessionStore selects the configured store; the database store also gets a sweeper bound to ctx.
func buildSessionStore(ctx context.Context, appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (sessions.Store, error) {
	if appConfig.SessionStore == config.SessionStoreRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		go func() {
			<-ctx.Done()
			_ = client.Close()
		}()
		return sessions.NewRedisStore(sessions.RedisStoreConfig{
			Client: client,
			TTL:    appConfig.SessionTTL,
			Logger: logger,
		})
	}

	store, err := sessions.NewDatabaseStore(sessions.DatabaseStoreConfig{
		Database: db,
		TTL:      appConfig.SessionTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	sweeper, err := sessions.NewSweeper(sessions.SweeperConfig{
		Purger:   store,
		Interval: appConfig.SessionCleanupInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	go sweeper.Run(ctx)
	return store, nil
}

func buildProviders(appConfig config.AppConfig, logger *zap.Logger) (*auth.ProviderRegistry, error) {
	var providers []auth.Provider
	if appConfig.Google.Enabled() {
		google, err := auth.NewGoogleProvider(auth.GoogleProviderConfig{
			ClientID:     appConfig.Google.ClientID,
			ClientSecret: appConfig.Google.ClientSecret,
			RedirectURL:  appConfig.Google.RedirectURL,
			JWKSURL:      appConfig.GoogleJWKSURL,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, google)
	}
	if appConfig.GitHub.Enabled() {
		github, err := auth.NewGitHubProvider(auth.GitHubProviderConfig{
			ClientID:     appConfig.GitHub.ClientID,
			ClientSecret: appConfig.GitHub.ClientSecret,
			RedirectURL:  appConfig.GitHub.RedirectURL,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, github)
	}
	return auth.NewProviderRegistry(providers...)
}
