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

	"github.com/exchange/emulator/internal/api"
	"github.com/exchange/emulator/internal/config"
	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/jobs"
	"github.com/exchange/emulator/internal/ledger"
	"github.com/exchange/emulator/internal/matching"
	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/internal/orderbook"
	"github.com/exchange/emulator/internal/publisher"
	"github.com/exchange/emulator/internal/service"
	"github.com/exchange/emulator/internal/ws"
	"github.com/exchange/emulator/pkg/health"
	"github.com/exchange/emulator/pkg/logger"
	"github.com/exchange/emulator/pkg/snowflake"
	"github.com/exchange/emulator/pkg/tracing"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout).WithLevel(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("emulator exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Infof("starting", map[string]any{
		"instrument": cfg.InstrumentID,
		"ticker":     cfg.Ticker,
		"account":    cfg.AccountID,
		"env":        cfg.AppEnv,
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ids, err := snowflake.New(cfg.WorkerID)
	if err != nil {
		return fmt.Errorf("init snowflake: %w", err)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 核心：事件中心 → 订单簿 → 撮合 → 账户
	hub := event.NewHub(log.Component("hub"))
	book := orderbook.NewManager(cfg.InstrumentID, hub, log.Component("orderbook"),
		orderbook.WithNotifyDepth(cfg.NotifyDepth))
	engine := matching.NewEngine(book, hub, ids, log.Component("matching"),
		matching.WithPriceScale(cfg.PriceScale))
	led := ledger.New(ledger.Config{
		AccountID:            cfg.AccountID,
		InstrumentID:         cfg.InstrumentID,
		InitialBalance:       cfg.InitialBalance,
		MarginMultiplierBuy:  cfg.MarginMultiplierBuy,
		MarginMultiplierSell: cfg.MarginMultiplierSell,
		PriceScale:           cfg.PriceScale,
		AvgPriceScale:        cfg.AvgPriceScale,
	}, log.Component("ledger"))

	bid, ask, _ := cfg.InitialQuotes()
	exchange := service.New(service.Config{
		InstrumentID:       cfg.InstrumentID,
		Ticker:             cfg.Ticker,
		FIGI:               cfg.FIGI,
		Lot:                cfg.Lot,
		Currency:           cfg.Currency,
		PriceScale:         cfg.PriceScale,
		FallbackPrice:      cfg.FallbackPrice,
		InitialBid:         bid,
		InitialAsk:         ask,
		InitialQuoteQty:    cfg.InitialQuoteQty,
		MarketMakerAccount: cfg.MarketMakerAccount,
		AdminAccount:       cfg.AdminAccount,
	}, book, engine, led, hub, log.Component("exchange"))

	codec := event.Codec{PriceScale: cfg.PriceScale}
	h := health.New()

	// 异步出口在 HTTP 关闭后再停止，保证排空
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	var workers []*publisher.Worker

	if cfg.RedisEnabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Infof("connected to redis", map[string]any{"addr": cfg.RedisAddr})

		h.Register(health.NewPingChecker("redis", health.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})))
		workers = append(workers, publisher.NewWorker("redis", publisher.NewRedisHandler(redisClient, codec, publisher.RedisConfig{
			Stream:         cfg.EventStream,
			MaxLen:         cfg.StreamMaxLen,
			PrivateChannel: cfg.PrivateEventChannel,
		}), cfg.SinkBuffer, log))
	}

	if cfg.KafkaEnabled {
		kafkaHandler := publisher.NewKafkaHandler(publisher.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), codec)
		defer kafkaHandler.Close()
		workers = append(workers, publisher.NewWorker("kafka", kafkaHandler, cfg.SinkBuffer, log))
	}

	for _, w := range workers {
		hub.Subscribe("sink:"+w.Name(), w)
		h.Register(health.NewLoopChecker("sink:"+w.Name(), w.Monitor(), 10*time.Second))
		go w.Run(sinkCtx)
	}

	if err := exchange.Seed(ctx); err != nil {
		return fmt.Errorf("seed initial quotes: %w", err)
	}

	if cfg.ReportSchedule != "" {
		if err := jobs.NewReporter(exchange, log).Start(ctx, cfg.ReportSchedule); err != nil {
			return err
		}
	}
	if cfg.BookRefreshSchedule != "" {
		if err := jobs.NewBookRefresher(exchange, log).Start(ctx, cfg.BookRefreshSchedule); err != nil {
			return err
		}
	}

	wsServer := ws.NewServer(hub, codec, ws.Config{
		AllowedOrigins: cfg.WSAllowedOrigins,
		Snapshot: func() model.BookSnapshot {
			return exchange.OrderBook(cfg.BookDepth)
		},
	}, log.Component("ws"))

	router := api.NewServer(api.Config{
		APIToken:   cfg.APIToken,
		AdminToken: cfg.AdminToken,
		BookDepth:  cfg.BookDepth,
	}, exchange, log.Component("api")).Routes(h, wsServer)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("http listening", map[string]any{"port": cfg.HTTPPort})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	h.SetReady(true)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	h.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	wsServer.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	stopSinks()
	for _, w := range workers {
		if err := w.Wait(shutdownCtx); err != nil {
			log.WithError(err).Warnf("sink did not drain", map[string]any{"sink": w.Name()})
		}
	}
	log.Info("stopped")
	return nil
}
