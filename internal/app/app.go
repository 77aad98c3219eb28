// Package app wires configuration, storage backends, and domain services
// into a running HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/channel"
	"github.com/wisbric/gatewayd/internal/config"
	"github.com/wisbric/gatewayd/internal/httpapi/blob"
	"github.com/wisbric/gatewayd/internal/httpapi/channeltoken"
	httpidentity "github.com/wisbric/gatewayd/internal/httpapi/identity"
	"github.com/wisbric/gatewayd/internal/httpapi/kv"
	"github.com/wisbric/gatewayd/internal/httpapi/shortlink"
	"github.com/wisbric/gatewayd/internal/httpserver"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/platform"
	"github.com/wisbric/gatewayd/internal/presign"
	"github.com/wisbric/gatewayd/internal/presign/gatewaypresign"
	"github.com/wisbric/gatewayd/internal/presign/s3presign"
	"github.com/wisbric/gatewayd/internal/storage"
	"github.com/wisbric/gatewayd/internal/telemetry"
	"github.com/wisbric/gatewayd/internal/token/stateful"
	"github.com/wisbric/gatewayd/storage/blob/fsblob"
	"github.com/wisbric/gatewayd/storage/blob/s3blob"
	"github.com/wisbric/gatewayd/storage/channel/memchannel"
	"github.com/wisbric/gatewayd/storage/channel/pgchannel"
	"github.com/wisbric/gatewayd/storage/kv/memkv"
	"github.com/wisbric/gatewayd/storage/kv/pgkv"
	"github.com/wisbric/gatewayd/storage/shortlink/memshortlink"
	"github.com/wisbric/gatewayd/storage/shortlink/pgshortlink"
)

// Run loads storage backends and domain services, mounts every route, and
// serves HTTP until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting gatewayd", "listen", cfg.ListenAddr())

	var db *pgxpool.Pool
	if cfg.KVBackend == "postgres" {
		var err error
		db, err = platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()

		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	kvStore, channelStore, shortlinkStore := buildStores(cfg, db)

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	identities := identity.NewService(kvStore)
	tokens := stateful.NewService(kvStore)
	engine := channel.NewEngine(channelStore, kvStore, rdb)

	presigner, err := buildPresigner(ctx, cfg, tokens)
	if err != nil {
		return err
	}

	var rateLimiter *auth.RateLimiter
	if cfg.BootstrapRateLimitAttempts > 0 {
		rateLimiter = auth.NewRateLimiter(rdb, cfg.BootstrapRateLimitAttempts, cfg.BootstrapRateLimitWindow)
	}
	authMW := auth.Middleware(identities, cfg.BootstrapAPIKey, logger, rateLimiter)
	optionalAuthMW := auth.OptionalMiddleware(identities, cfg.BootstrapAPIKey, logger, rateLimiter)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	identityHandler := httpidentity.NewHandler(logger, identities, tokens)
	kvHandler := kv.NewHandler(kvStore, identities)
	blobHandler := blob.NewHandler(blobStore, kvStore, identities, presigner, tokens, cfg.Bucket, time.Duration(cfg.PresignExpiresIn)*time.Second)
	channelHandler := channel.NewHandler(logger, engine, identities)
	tokenHandler := channeltoken.NewHandler(logger, tokens, identities)
	shortlinkHandler := shortlink.NewHandler(logger, shortlinkStore)

	srv.Router.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Mount("/identity", identityHandler.Routes())
		r.Mount("/kv", kvHandler.Routes())
		r.Mount("/short", shortlinkHandler.Routes())
	})
	// /channel/subscribe, /token/lookup, and /token/claim are public paths
	// (spec.md §4.2): a brand-new invitee redeeming a claim token, or a
	// capability-token-only SSE subscriber, has no identity credential yet.
	channelHandler.Mount(srv.Router, optionalAuthMW)
	tokenHandler.Mount(srv.Router, optionalAuthMW)
	blobHandler.Mount(srv.Router, authMW)
	srv.Router.Mount("/s", shortlinkHandler.RedirectRoutes())

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	}
}

func buildStores(cfg *config.Config, db *pgxpool.Pool) (storage.KVStore, storage.ChannelStore, storage.ShortLinkStore) {
	if cfg.KVBackend == "postgres" {
		return pgkv.New(db), pgchannel.New(db), pgshortlink.New(db)
	}
	return memkv.New(), memchannel.New(), memshortlink.New()
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	if cfg.BlobMode != "s3" {
		return fsblob.New(cfg.BlobFSRoot)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return s3blob.New(client, cfg.Bucket), nil
}

func buildPresigner(ctx context.Context, cfg *config.Config, tokens *stateful.Service) (presign.Presigner, error) {
	if cfg.PresignMode != "s3" {
		return gatewaypresign.New(tokens, cfg.PublicBaseURL), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return s3presign.New(s3.NewPresignClient(client)), nil
}
