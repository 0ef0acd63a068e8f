package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"magioproxy/cache"
	"magioproxy/config"
	"magioproxy/magio"
	"magioproxy/magio/auth"
	"magioproxy/server"
)

const sweepInterval = 5 * time.Minute

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()

	cfg, err := config.Load(os.Getenv("MAGIO_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if missing := cfg.Missing(); len(missing) > 0 {
		log.Fatal().Msgf("missing required config: %s", strings.Join(missing, ", "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cache.New(cfg.CacheTimeout)

	store, closeStore, err := newTokenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize token store")
	}
	defer closeStore()

	manager := auth.NewManager(auth.Config{
		Username:   cfg.Username,
		Password:   cfg.Password,
		Language:   cfg.Language,
		AppVersion: cfg.AppVersion,
	}, store, c)

	if !manager.Login(ctx) {
		// not fatal, the keep-alive loop retries and the API reports status
		log.Warn().Msg("initial login failed, continuing without a session")
	}

	client := magio.NewClient(magio.ClientOpts{
		Auth:     manager,
		Cache:    c,
		Quality:  cfg.Quality,
		CacheTTL: cfg.CacheTimeout,
	})

	srv := server.New(server.Opts{
		Auth:      manager,
		Client:    client,
		Cache:     c,
		ServerURL: cfg.ServerURL,
		Debug:     cfg.Debug,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	})

	g.Go(func() error {
		sweepExpiredEntries(ctx, c)
		return nil
	})

	g.Go(func() error {
		keepSessionAlive(ctx, manager)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

func newTokenStore(ctx context.Context, cfg config.Config) (auth.TokenStore, func(), error) {
	if cfg.RedisURL != "" {
		store, err := auth.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("token persistence: redis")
		return store, func() { _ = store.Close() }, nil
	}

	log.Info().Str("dir", cfg.DataDir).Msg("token persistence: data dir")
	return auth.NewFileStore(cfg.DataDir), func() {}, nil
}

// sweepExpiredEntries drops expired cache entries periodically so memory is
// reclaimed even for keys nobody reads again.
func sweepExpiredEntries(ctx context.Context, c *cache.Cache) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				log.Debug().Int("removed", n).Msg("swept expired cache entries")
			}
		}
	}
}

// keepSessionAlive refreshes the access token ahead of expiry so the first
// request after a quiet period does not pay the refresh roundtrip.
func keepSessionAlive(ctx context.Context, manager *auth.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !manager.RefreshAccessToken(ctx) {
				log.Warn().Msg("session keep-alive refresh failed")
			}
		}
	}
}
