package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/auth"
	"github.com/MarcoPoloResearchLab/collabstore/internal/config"
	"github.com/MarcoPoloResearchLab/collabstore/internal/database"
	"github.com/MarcoPoloResearchLab/collabstore/internal/files"
	"github.com/MarcoPoloResearchLab/collabstore/internal/logging"
	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/MarcoPoloResearchLab/collabstore/internal/resolvers"
	"github.com/MarcoPoloResearchLab/collabstore/internal/server"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collabstore-api",
		Short: "Collaborative document annotation backend",
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
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "State backend (json, sqlite)")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("storage.path"), "JSON state file path")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("files-root", defaults.GetString("files.root"), "Directory for uploaded documents")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Duration("write-timeout", defaults.GetDuration("store.write_timeout"), "Upper bound for a single store write")
	cmd.PersistentFlags().Bool("legacy-bounds", defaults.GetBool("query.legacy_bounds"), "Apply only the first timestamp bound in list filters")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Browser origins allowed to send credentialed requests")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "files.root", "files-root")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "store.write_timeout", "write-timeout")
	bindFlag(cmd, "query.legacy_bounds", "legacy-bounds")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	persister, closePersister, err := openPersister(appConfig, logger)
	if err != nil {
		return err
	}
	defer closePersister()

	stateStore, err := store.New(ctx, store.Config{
		Persister:    persister,
		IDProvider:   store.NewUUIDProvider(),
		WriteTimeout: appConfig.WriteTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer stateStore.Close() //nolint:errcheck

	boundsMode := query.BoundsConjunctive
	if appConfig.LegacyBounds {
		boundsMode = query.BoundsFirstMatch
	}
	resolver, err := resolvers.New(resolvers.Config{
		Store:      stateStore,
		Clock:      time.Now,
		Logger:     logger,
		BoundsMode: boundsMode,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionManager(auth.SessionConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.CookieName,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	fileStorage, err := files.NewStorage(afero.NewOsFs(), appConfig.FilesRoot)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Resolver:       resolver,
		Sessions:       sessions,
		Files:          fileStorage,
		Realtime:       server.NewRealtimeDispatcher(),
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		SecureCookies:  appConfig.SecureCookies,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_driver", appConfig.StorageDriver),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openPersister returns the configured state backend and a release func for its resources.
func openPersister(appConfig config.AppConfig, logger *zap.Logger) (store.Persister, func(), error) {
	switch appConfig.StorageDriver {
	case config.StorageDriverSQLite:
		if err := os.MkdirAll(filepath.Dir(appConfig.DatabasePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		persister, err := database.NewStatePersister(db, time.Now)
		if err != nil {
			closeDatabase(db)
			return nil, nil, err
		}
		return persister, func() { closeDatabase(db) }, nil
	default:
		persister, err := store.NewFilePersister(afero.NewOsFs(), appConfig.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return persister, func() {}, nil
	}
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.Close() //nolint:errcheck
}
