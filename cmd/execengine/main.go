package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trading-execv1/config"
	"trading-execv1/internal/api"
	"trading-execv1/internal/broker"
	"trading-execv1/internal/execution"
	"trading-execv1/internal/logger"
	"trading-execv1/internal/markethours"
	"trading-execv1/internal/metrics"
	"trading-execv1/internal/monitor"
	"trading-execv1/internal/notification"
	"trading-execv1/internal/ordercache"
	"trading-execv1/internal/risk"
	redisstore "trading-execv1/internal/store/redis"
	sqlitestore "trading-execv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("execengine", slog.LevelInfo)
	log.Println("[execengine] starting...")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- SQLite (source of truth) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[execengine] sqlite init failed: %v", err)
	}
	defer store.Close()
	log.Println("[execengine] sqlite store ready")

	// ---- Redis mirror (best effort) ----
	var publisher *redisstore.Publisher
	publisher, err = redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[execengine] WARNING: redis init failed: %v (continuing without live mirror)", err)
		publisher = nil
	} else {
		defer publisher.Close()
		publisher.OnBreakerChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
	}
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	var backends []notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[execengine] telegram notifier enabled")
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[execengine] webhook notifier enabled")
	}
	var notifier notification.Notifier = notification.NewLogNotifier()
	if len(backends) > 0 {
		notifier = notification.NewMultiNotifier(backends...)
	}

	// ---- Broker adapters (missing credentials disable that broker only) ----
	brokers := broker.NewManager(cfg.BrokerTimeout)
	var fyersAdapter *broker.Fyers
	if cfg.HasFyers() {
		fyersAdapter = broker.NewFyers(broker.FyersConfig{
			ClientID:   cfg.FyersClientID,
			AppID:      cfg.FyersAppID,
			SecretKey:  cfg.FyersSecretKey,
			TOTPSecret: cfg.FyersTOTPSecret,
			PIN:        cfg.FyersPIN,
			Timeout:    cfg.BrokerTimeout,
		})
		registerBroker(ctx, store, brokers, fyersAdapter)
	}
	if cfg.HasZerodha() {
		registerBroker(ctx, store, brokers, broker.NewZerodha(broker.ZerodhaConfig{
			UserID:     cfg.ZerodhaUserID,
			Password:   cfg.ZerodhaPassword,
			APIKey:     cfg.ZerodhaAPIKey,
			APISecret:  cfg.ZerodhaAPISecret,
			TOTPSecret: cfg.ZerodhaTOTPSecret,
			Timeout:    cfg.BrokerTimeout,
		}))
	}
	if cfg.HasAngel() {
		registerBroker(ctx, store, brokers, broker.NewAngel(broker.AngelConfig{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
			Timeout:    cfg.BrokerTimeout,
		}))
	}

	// honor the brokers table's trade_enabled flag: suspension gates new
	// entries only, exits and monitoring continue
	if rows, err := store.ListBrokers(ctx); err == nil {
		for _, row := range rows {
			if !row.TradeEnabled {
				brokers.Suspend(row.Name, "trade disabled in brokers table")
			}
		}
	}

	brokers.Setup(ctx)
	authed := len(brokers.ActiveBrokers())
	health.SetBrokersAuthed(authed)
	if authed == 0 {
		log.Println("[execengine] WARNING: no broker authenticated; monitors idle until reauth succeeds")
	}

	// Fresh logins before each market open: broker sessions expire daily.
	go func() {
		for {
			next := markethours.NextPreOpen(time.Now())
			wait := time.Until(next)
			log.Printf("[execengine] next broker reauth at %s (%s)",
				next.In(markethours.IST).Format("Mon 15:04"), wait.Truncate(time.Second))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			brokers.ReauthenticateAll(ctx)
			health.SetBrokersAuthed(len(brokers.ActiveBrokers()))
		}
	}()

	// ---- Order cache + execution manager ----
	cache := ordercache.New(brokers)
	go cache.Run(ctx, cfg.PollInterval)

	orders := execution.NewManager(store, brokers, cache, notifier, prom)
	if publisher != nil {
		orders.SetEventSink(publisher)
	}

	// ---- Monitors (order monitor shares the cache's poll interval) ----
	orderMon := monitor.NewOrderMonitor(store, cache, brokers, cfg.PollInterval, prom)
	positionMon := monitor.NewPositionMonitor(store, brokers, cfg.PollInterval, prom)
	balanceMon := monitor.NewBalanceMonitor(store, brokers, cfg.BalanceInterval, prom)
	if publisher != nil {
		orderMon.SetEventSink(publisher)
		balanceMon.SetEventSink(publisher)
	}
	go orderMon.Run(ctx)
	go positionMon.Run(ctx)
	go balanceMon.Run(ctx)

	go func() {
		t := time.NewTicker(cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				health.SetLastPollAt(now)
				if markethours.IsMarketOpen(now) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
			}
		}
	}()

	// ---- Risk loop ----
	riskMgr := risk.NewManager(brokers, orders, notifier, prom, cfg.PollInterval)
	for name := range brokers.ActiveBrokers() {
		maxLoss, maxProfit := cfg.RiskLimitsFor(name)
		if maxLoss > 0 || maxProfit > 0 {
			riskMgr.SetLimits(name, risk.Limits{MaxLoss: maxLoss, MaxProfit: maxProfit})
		}
	}
	go riskMgr.Run(ctx)

	// ---- Order stream (fyers push → early cache refresh) ----
	if cfg.OrderStreamEnabled && fyersAdapter != nil {
		stream := broker.NewOrderStream(cfg.FyersAppID, fyersAdapter.AccessToken)
		stream.OnConnect = func() { health.SetStreamConnected(true) }
		stream.OnReconnect = func() {
			health.SetStreamConnected(false)
			prom.StreamReconnects.Inc()
		}
		stream.OnUpdate(func(u broker.OrderUpdate) {
			cache.Nudge()
		})
		go stream.Run(ctx)
	}

	// ---- Operational API ----
	apiSrv := api.NewServer(store, orders, riskMgr)
	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: apiSrv.Router()}
	go func() {
		log.Printf("[execengine] api listening on %s", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[execengine] api server error: %v", err)
		}
	}()

	log.Printf("[execengine] ready: %d broker(s), poll=%s, db=%s", authed, cfg.PollInterval, cfg.SQLitePath)
	log.Printf("[execengine] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[execengine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[execengine] shutdown complete.")
}

// registerBroker persists the broker's DB identity and registers the
// adapter under it.
func registerBroker(ctx context.Context, store *sqlitestore.Store, brokers *broker.Manager, b broker.Broker) {
	id, err := store.UpsertBroker(ctx, b.Name())
	if err != nil {
		log.Printf("[execengine] upsert broker %s: %v", b.Name(), err)
	}
	brokers.Register(id, b)
	log.Printf("[execengine] registered broker %s (id=%d)", b.Name(), id)
}
