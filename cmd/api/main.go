package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"todoapp.io/internal/auth"
	"todoapp.io/internal/cognito"
	"todoapp.io/internal/config"
	"todoapp.io/internal/httpapi"
	"todoapp.io/internal/obs"
	"todoapp.io/internal/store/dynamo"
	"todoapp.io/internal/store/pg"
	"todoapp.io/internal/todo"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.InitLogger(cfg.LogLevel, cfg.LogPretty)
	log := obs.Logger()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	obs.Init()
	build := obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		log.Fatal().Err(err).Msg("load aws config")
	}
	idp := cognito.NewFromConfig(awsCfg)

	userTokens, err := newVerifier(cfg, auth.RealmUser, cfg.UserPoolID, cfg.ClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("user token verifier")
	}
	partnerTokens, err := newVerifier(cfg, auth.RealmPartner, cfg.PartnerPoolID, cfg.PartnerClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("partner token verifier")
	}
	issuer, err := auth.NewIssuer(idp, auth.IssuerConfig{
		UserClientID:        cfg.ClientID,
		PartnerClientID:     cfg.PartnerClientID,
		PartnerClientSecret: cfg.PartnerClientSecret,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("credential issuer")
	}
	provisioner, err := auth.NewProvisioner(idp, auth.ProvisionerConfig{
		PoolID:             cfg.PartnerPoolID,
		AdminKey:           cfg.AdminAPIKey,
		PartnerIDAttribute: cfg.PartnerIDAttribute,
	}, auth.WithRollback(cfg.PartnerRollback))
	if err != nil {
		log.Fatal().Err(err).Msg("partner provisioner")
	}

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatal().Err(err).Msg("trusted proxies")
	}

	store, closeStore, err := openStore(ctx, cfg, awsCfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("open todo store")
	}
	defer closeStore()

	api := httpapi.New(httpapi.ReadyProbe{Store: store}, version, httpapi.Services{
		UserTokens:    userTokens,
		PartnerTokens: partnerTokens,
		Issuer:        issuer,
		Provisioner:   provisioner,
		Todos:         store,
	},
		httpapi.WithRateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		httpapi.WithUpstreamTimeout(cfg.UpstreamTimeout),
		httpapi.WithAllowedOrigins(cfg.CORSOrigins...),
		httpapi.WithTrustedProxies(trusted...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", build.Version).Str("commit", build.Commit).Str("store", cfg.StoreBackend).Msg("starting todo-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}

func newVerifier(cfg *config.Config, realm auth.Realm, poolID, clientID string) (*auth.Verifier, error) {
	iss := auth.IssuerURL(cfg.IssuerBase(), poolID)
	keys := auth.NewKeySet(auth.JWKSURL(iss),
		auth.WithKeyTTL(cfg.JWKSRefresh),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
	)
	return auth.NewVerifier(auth.VerifierConfig{
		Realm:    realm,
		Issuer:   iss,
		ClientID: clientID,
		Leeway:   cfg.TokenLeeway,
	}, keys)
}

func openStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (todo.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		s, err := pg.Open(cfg.PostgresDSN, cfg.TableName)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreMemory:
		return todo.NewInMemory(), func() {}, nil
	default:
		var opts []func(*dynamodb.Options)
		if cfg.DynamoDBEndpoint != "" {
			opts = append(opts, func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			})
		}
		s, err := dynamo.NewFromConfig(awsCfg, cfg.TableName, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}
