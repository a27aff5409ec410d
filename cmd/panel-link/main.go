package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/httplog/v2"
	"golang.org/x/sync/errgroup"

	myhttp "github.com/Ayi456/panel-link/internal/api/http/v1"
	"github.com/Ayi456/panel-link/internal/cache"
	"github.com/Ayi456/panel-link/internal/config"
	dbpostgres "github.com/Ayi456/panel-link/internal/database/postgres"
	"github.com/Ayi456/panel-link/internal/service"
	"github.com/Ayi456/panel-link/pkg/postgres"
	"github.com/Ayi456/panel-link/pkg/redis"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger := httplog.NewLogger("panel-link", httplog.Options{
		JSON:    cfg.Env == config.EnvProd,
		Concise: cfg.Env != config.EnvProd,
	})

	g, ctx := errgroup.WithContext(ctx)

	db, err := postgres.New(ctx, cfg.Postgres.DSN(),
		postgres.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
		postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
	)
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return db.Close()
	})

	if err := postgres.RunMigrations("migrations", cfg.Postgres.DSN()); err != nil {
		return err
	}

	rdb, err := redis.New(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return rdb.Close()
	})

	linkRepo := dbpostgres.NewLinkRepository(db)
	linkCache := cache.NewLinkCache(rdb)
	linkSvc := service.NewLinkService(linkRepo, linkCache, logger.Logger, cfg.Link)

	sweeper := service.NewSweeper(linkSvc, logger.Logger, cfg.Sweeper)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	r := myhttp.NewRouter(logger, linkSvc)

	server := &http.Server{
		Addr:           cfg.Server.Addr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := server.Shutdown(context.Background()); err != nil {
			return err
		}

		// Drain detached visit counts and cache writes before exiting.
		linkSvc.Wait()
		return nil
	})

	return g.Wait()
}
