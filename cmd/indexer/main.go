package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/api"
	"github.com/auctionchain/auction-mirror/internal/config"
	"github.com/auctionchain/auction-mirror/internal/database"
	"github.com/auctionchain/auction-mirror/internal/extractor"
	"github.com/auctionchain/auction-mirror/internal/indexer"
	"github.com/auctionchain/auction-mirror/internal/logger"
	"github.com/auctionchain/auction-mirror/internal/supervisor"
)

type cliArgs struct {
	ConfigFile string `arg:"--config,env:CONFIG_FILE" default:"config.toml" help:"path to the toml configuration"`
}

func main() {
	var args cliArgs
	arg.MustParse(&args)

	if err := run(&args); err != nil {
		logger.Fatal(err)
	}
}

func run(args *cliArgs) error {
	cfg := config.Default()
	if err := config.ReadFile(args.ConfigFile, &cfg); err != nil {
		return errors.Wrap(err, "reading config")
	}

	cfg.ApplyEnvOverrides()
	if err := config.CheckParameters(&cfg); err != nil {
		return errors.Wrap(err, "checking config")
	}

	logger.Set(cfg.Logger)

	db, err := database.New(&cfg.DB)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	sup := supervisor.New(
		supervisor.DialChain(cfg.Chain.WSURL),
		time.Duration(cfg.Reconnect.BaseDelaySeconds)*time.Second,
		time.Duration(cfg.Reconnect.MaxDelaySeconds)*time.Second,
		cfg.Reconnect.MaxAttempts,
	)

	reader := extractor.WithBackoff(
		sup,
		time.Duration(cfg.Timeout.BackoffMaxElapsedTimeSeconds)*time.Second,
		time.Duration(cfg.Timeout.RequestTimeoutMillis)*time.Millisecond,
	)
	ext := extractor.New(reader, cfg.Chain.Pallet)

	var policy indexer.FailurePolicy = indexer.BestEffort{}
	if cfg.Indexer.DeadLetter {
		policy = indexer.DeadLetter{DB: db}
	}

	ix := indexer.New(db, sup, ext, policy)
	queue := indexer.NewQueue(ix, cfg.Indexer.QueueSize)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx)
	}()

	var server *api.Server
	if cfg.API.Enabled {
		server = api.New(db, cfg.API.ListenAddr)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(); err != nil {
				logger.Errorf("api: %v", err)
			}
		}()
	}

	err = sup.Run(ctx, queue)
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("api shutdown: %v", err)
		}
		shutdownCancel()
	}

	wg.Wait()

	return err
}
