package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	marketapp "github.com/stocksim/stocktrading/internal/market/application"
	marketdomain "github.com/stocksim/stocktrading/internal/market/domain"
	marketmysql "github.com/stocksim/stocktrading/internal/market/infrastructure/persistence/mysql"
	marketpub "github.com/stocksim/stocktrading/internal/market/infrastructure/publisher"
	"github.com/stocksim/stocktrading/internal/market/infrastructure/quote"
	markethttp "github.com/stocksim/stocktrading/internal/market/interfaces/http"
	tradeapp "github.com/stocksim/stocktrading/internal/trade/application"
	tradedomain "github.com/stocksim/stocktrading/internal/trade/domain"
	trademysql "github.com/stocksim/stocktrading/internal/trade/infrastructure/persistence/mysql"
	"github.com/stocksim/stocktrading/internal/trade/infrastructure/pricing"
	tradepub "github.com/stocksim/stocktrading/internal/trade/infrastructure/publisher"
	tradehttp "github.com/stocksim/stocktrading/internal/trade/interfaces/http"
	"github.com/stocksim/stocktrading/pkg/config"
	"github.com/stocksim/stocktrading/pkg/db"
	"github.com/stocksim/stocktrading/pkg/logger"
	"github.com/stocksim/stocktrading/pkg/metrics"
	"github.com/stocksim/stocktrading/pkg/middleware"
	"github.com/stocksim/stocktrading/pkg/mq"
	"github.com/stocksim/stocktrading/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "Starting trading service",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			logger.Fatal(ctx, "Failed to register metrics", "error", err)
		}
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Fatal(ctx, "Failed to start metrics server", "error", err)
		}
	}

	var database *db.DB
	err = utils.RetryWithBackoff(5, time.Second, 10*time.Second, func() error {
		var connErr error
		database, connErr = db.Init(db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		}, m)
		return connErr
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to connect to database", "error", err)
	}
	defer database.Close()

	// 生产环境走独立迁移流程
	if cfg.Environment == "dev" {
		if err := database.AutoMigrate(
			&marketdomain.Stock{},
			&tradedomain.Portfolio{},
			&tradedomain.Holding{},
			&tradedomain.Transaction{},
		); err != nil {
			logger.Fatal(ctx, "Failed to migrate database", "error", err)
		}
	}

	producer, err := mq.NewProducer(mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to create Kafka producer", "error", err)
	}
	defer producer.Close()

	startingCash, err := decimal.NewFromString(cfg.Trading.StartingCash)
	if err != nil {
		logger.Fatal(ctx, "Invalid starting cash in config", "value", cfg.Trading.StartingCash, "error", err)
	}

	// 行情上下文
	stockRepo := marketmysql.NewStockRepository(database.DB)
	stockService := marketapp.NewStockService(stockRepo)
	quoteSource := quote.NewAlphaVantageSource(
		cfg.Market.AlphaVantageBaseURL,
		cfg.Market.AlphaVantageAPIKey,
		time.Duration(cfg.Market.QuoteTimeoutSeconds)*time.Second,
	)
	pricePublisher := marketpub.NewKafkaPricePublisher(producer, cfg.Kafka.PriceTopic)
	refresher := marketapp.NewPriceRefresher(
		stockRepo,
		quoteSource,
		pricePublisher,
		time.Duration(cfg.Market.RefreshIntervalSeconds)*time.Second,
		time.Duration(cfg.Market.QuoteTimeoutSeconds)*time.Second,
		m,
	)

	// 交易上下文
	portfolioRepo := trademysql.NewPortfolioRepository(database)
	priceReader := pricing.NewStockPriceReader(stockService)
	tradePublisher := tradepub.NewKafkaTradePublisher(producer, cfg.Kafka.TradeTopic)
	tradeService := tradeapp.NewTradeService(
		portfolioRepo,
		priceReader,
		tradePublisher,
		m,
		tradeapp.TradeConfig{
			StartingCash: startingCash,
			MaxRetries:   cfg.Trading.MaxTradeRetries,
			NodeID:       cfg.Trading.NodeID,
		},
	)

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.GinLoggingMiddleware(),
		middleware.GinRecoveryMiddleware(),
		middleware.GinCORSMiddleware(),
		middleware.GinMetricsMiddleware(m),
		middleware.GinRateLimitMiddleware(
			middleware.NewRateLimiter(cfg.HTTP.RateLimitBurst, cfg.HTTP.RateLimitPerSecond),
		),
	)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	markethttp.NewStockHandler(stockService).RegisterRoutes(api)

	authed := api.Group("")
	authed.Use(middleware.GinIdentityMiddleware())
	tradehttp.NewTradeHandler(tradeService).RegisterRoutes(authed)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	refresher.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down")

		refresher.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal(context.Background(), "Service exited with error", "error", err)
	}
	logger.Info(context.Background(), "Service stopped")
}
