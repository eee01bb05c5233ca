package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"timebid/internal/api/handlers"
	"timebid/internal/config"
	"timebid/internal/infrastructure/mysql"
	"timebid/internal/infrastructure/redis"
	"timebid/internal/infrastructure/websocket"
	"timebid/internal/services"
	"timebid/pkg/logger"
	"timebid/pkg/utils"
)

func main() {
	app := &cli.App{
		Name:  "realtime-service",
		Usage: "push live auction prices to websocket watchers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"TIMEBID_CONFIG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	log := logger.NewWithConfig(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, Service: "realtime-service"})
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(connectCtx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(connectCtx, cfg.MySQL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	store := mysql.NewStore(db)
	priceCache := redis.NewRedisPriceCache(rdb)
	subscriber := redis.NewRedisEventSubscriber(rdb, log)
	connManager := websocket.NewConnectionManager(log)
	eventListener := services.NewEventListener(priceCache, connManager, log)

	router := mux.NewRouter()
	handlers.NewWebSocketHandlers(store.Auctions(), priceCache, connManager, cfg.Realtime.AllowedOrigins, log).Register(router)

	server := &http.Server{
		Addr:              cfg.Realtime.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting realtime service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := eventListener.Start(gctx, subscriber)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down realtime service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("Realtime service stopped")
	return err
}
