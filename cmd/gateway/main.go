package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"BPSGateway/internal/broker"
	"BPSGateway/internal/chain"
	"BPSGateway/internal/config"
	"BPSGateway/internal/db"
	internalhttp "BPSGateway/internal/http"
	"BPSGateway/internal/invoices"
	"BPSGateway/internal/models"
	"BPSGateway/internal/payments"
	"BPSGateway/internal/reconcile"
	"BPSGateway/internal/services"
	"BPSGateway/internal/store"
	"BPSGateway/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	if err := run(*configPath, logger); err != nil {
		logger.Error("Gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, closeKV, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	btcNet, err := chain.NetworkParams(cfg.Currencies[string(models.BTC)].Network)
	if err != nil {
		return err
	}
	table := cfg.Rules()
	invoiceStore := invoices.New(kv, table, logger)
	invoiceStore.SetAddressValidator(chain.AddressValidator(btcNet))
	if err := invoiceStore.Load(ctx); err != nil {
		return fmt.Errorf("load invoices: %w", err)
	}

	engine := reconcile.NewEngine(invoiceStore, table, logger, cfg.Engine.QueueSize)
	if cfg.Broker.PublishPaid {
		producer, err := broker.NewProducer(cfg.Broker.AMQPURL, cfg.Broker.Exchange, logger)
		if err != nil {
			return fmt.Errorf("amqp producer: %w", err)
		}
		defer producer.Close()
		notifier := broker.NewAsyncNotifier(producer, 0, logger)
		// outlives the engine so events drained at shutdown are still published
		notifyCtx, stopNotify := context.WithCancel(context.Background())
		notifyDone := make(chan struct{})
		go func() {
			defer close(notifyDone)
			notifier.Run(notifyCtx)
		}()
		defer func() {
			stopNotify()
			<-notifyDone
		}()
		engine.Notifier = notifier
	}

	clients, err := buildClients(cfg, logger)
	if err != nil {
		return err
	}

	gateway := services.GatewayService{
		Invoices: invoiceStore,
		Payments: payments.New(kv, table, logger),
		Clients:  clients,
		Rules:    table,
		Logger:   logger,
	}
	srv := internalhttp.NewServer(internalhttp.NewHandler(gateway, engine), logger, cfg.Server.CORSOrigins)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	workers := make([]*worker.Worker, 0, len(clients))
	for _, c := range cfg.EnabledCurrencies() {
		workers = append(workers, &worker.Worker{
			Client:     clients[c],
			Sink:       engine,
			Logger:     logger,
			MaxBackoff: time.Duration(cfg.Worker.MaxBackoffSeconds) * time.Second,
		})
	}
	go func() {
		defer wg.Done()
		worker.RunAll(ctx, workers)
	}()

	scheduler, err := worker.StartAudit(cfg.Worker.AuditSchedule, &worker.Auditor{
		Invoices:   invoiceStore,
		Engine:     engine,
		Currencies: cfg.EnabledCurrencies(),
		Logger:     logger,
	})
	if err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("audit schedule: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API listening", "addr", cfg.Server.Addr, "currencies", cfg.EnabledCurrencies(), "store", cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	case err = <-serverErr:
		logger.Error("HTTP server failed", "error", err)
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
	<-scheduler.Stop().Done()
	cancel()
	wg.Wait()
	return err
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.KV, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect failed: %w", err)
		}
		logger.Info("Using postgres store")
		return store.NewPostgresKV(pool), pool.Close, nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("Using redis store", "namespace", cfg.Store.Namespace)
		return store.NewRedisKV(client, cfg.Store.Namespace), func() { _ = client.Close() }, nil
	}
	logger.Warn("Using in-memory store; invoices are lost on restart")
	return store.NewMemoryKV(), func() {}, nil
}

// buildClients creates the client of every enabled currency. A currency fed
// over AMQP still gets its node client for wallet calls when one can be
// built from its settings.
func buildClients(cfg *config.Config, logger *slog.Logger) (map[models.Currency]chain.Client, error) {
	registry := chain.DefaultRegistry()
	clients := make(map[models.Currency]chain.Client)
	for _, c := range cfg.EnabledCurrencies() {
		cc := cfg.Currencies[string(c)]
		node, err := registry.New(c, cfg.ClientConfig(c), logger)
		switch cc.Source {
		case config.SourceAMQP:
			if err != nil {
				logger.Warn("No node client for AMQP-fed currency; wallet calls disabled", "currency", c, "error", err)
				node = nil
			}
			clients[c] = broker.NewFeedClient(c, cfg.Broker.AMQPURL, cfg.Broker.Exchange, node, logger.With("currency", c))
		default:
			if err != nil {
				return nil, fmt.Errorf("%s client: %w", c, err)
			}
			clients[c] = node
		}
	}
	return clients, nil
}
