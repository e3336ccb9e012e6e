package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"quote-relay/src/broadcast"
	"quote-relay/src/cache"
	"quote-relay/src/config"
	datasource "quote-relay/src/data_source"
	"quote-relay/src/data_source/kis"
	"quote-relay/src/data_source/yahoo"
	"quote-relay/src/grpc_control"
	"quote-relay/src/helpers"
	"quote-relay/src/identity"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/network"
	"quote-relay/src/scheduler"
	"quote-relay/src/server"
	"quote-relay/src/session"
	"quote-relay/src/storage"
	"quote-relay/src/utils"
)

const shutdownTimeout = 10 * time.Second

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.MConfig, config.Name)
	defer appLogger.Sync()

	// prices go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	// 1. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(promRegistry)

	// 2. Response cache
	var store interfaces.ICacheStore
	switch config.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: config.Cache.RedisAddr, DB: config.Cache.RedisDB})
		redisStore := cache.NewRedisStore(rdb, config.Cache.KeyPrefix, config.Cache.MaxAge.Duration)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			appLogger.Critical("Failed to reach redis at %s: %v", config.Cache.RedisAddr, err)
			os.Exit(1)
		}
		store = redisStore
	default:
		store = cache.NewMemoryStore()
	}
	responseCache := cache.New(store, appMetrics, appLogger.Named("cache"))
	defer responseCache.Close()

	// 3. Upstream providers
	proxies := helpers.NewProxyManager(config.Network.Proxies, config.Network.UserAgents, appLogger.Named("proxy"))
	timeout := config.Network.RequestTimeout.Duration

	kisSource := kis.NewKISSource(config.Upstream.KIS,
		network.NewNetworkManager(kis.ProviderName, timeout, proxies, appLogger.Named("net.kis")),
		datasource.NewThrottle(config.Upstream.KIS.Throttle.Duration),
		appLogger.Named("kis"), appMetrics)

	var secondary interfaces.IQuoteSource
	if config.Upstream.Yahoo.Enabled {
		secondary = yahoo.NewYahooFinanceSource(config.Upstream.Yahoo,
			network.NewNetworkManager(yahoo.ProviderName, timeout, proxies, appLogger.Named("net.yahoo")),
			appLogger.Named("yahoo"), appMetrics)
	}
	market := datasource.NewMarketDataClient(kisSource, secondary, responseCache, config.Cache.TTL, appLogger.Named("market"), appMetrics)

	// 4. Identity
	subjects, err := storage.NewSubjectStore(config.Storage, appLogger.Named("storage"))
	if err != nil {
		appLogger.Critical("Failed to init subject store: %v", err)
		os.Exit(1)
	}
	if err := subjects.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate subject store: %v", err)
		os.Exit(1)
	}
	defer subjects.Close()
	if err := storage.SeedSubjects(context.Background(), subjects, config.Storage.Seed, appLogger.Named("storage")); err != nil {
		appLogger.Warning("Seeding subjects failed: %v", err)
	}
	resolver := identity.NewResolver(config.Identity, subjects, appLogger.Named("identity"))

	// 5. Sessions, fan-out and polling
	calendar := utils.NewTradingCalendar(config.Calendar, appLogger.Named("calendar"))
	registry := session.NewRegistry(config.Sessions.Tiers)
	engine := broadcast.NewEngine(registry, appLogger.Named("broadcast"), appMetrics)
	poller := scheduler.NewPollScheduler(config.Scheduler, registry, market, engine, calendar, appLogger.Named("poller"), appMetrics)
	sessions := session.NewManager(config.Sessions, registry, resolver, calendar, engine, poller, appLogger.Named("session"), appMetrics)

	// 6. Periodic jobs
	jobs := scheduler.NewJobs(config.MConfig, sessions, engine, calendar, responseCache, appLogger.Named("jobs"))
	if err := jobs.Start(); err != nil {
		appLogger.Critical("Failed to start jobs: %v", err)
		os.Exit(1)
	}

	// 7. HTTP + WebSocket
	srv := server.NewAPIServer(config.MConfig, sessions, market, calendar, appMetrics, appLogger.Named("api"))
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
			os.Exit(1)
		}
	}()

	// 8. gRPC control plane
	var control *grpc_control.Server
	if config.GrpcPort > 0 {
		control = grpc_control.NewServer(grpc_control.NewControlService(sessions, calendar, market, appLogger.Named("grpc")), appLogger.Named("grpc"))
		go func() {
			if err := control.ListenAndServe(config.GrpcHost, config.GrpcPort); err != nil {
				appLogger.Error("gRPC server failed: %v", err)
			}
		}()
	}

	status := calendar.Status(time.Now())
	appLogger.Info("%s ready on %s:%d (market %s)", config.Name, config.Host, config.Port, status.Status)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	jobs.Stop()
	poller.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		appLogger.Error("HTTP shutdown: %v", err)
	}
	if control != nil {
		control.Stop()
	}
	appLogger.Info("Shutdown complete")
}
