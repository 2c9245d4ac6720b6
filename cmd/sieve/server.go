package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commonsforum/sieve/automod/cachestore"
	"github.com/commonsforum/sieve/automod/countstore"
	"github.com/commonsforum/sieve/automod/engine"
	"github.com/commonsforum/sieve/automod/forum"
	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/review"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"
	"github.com/commonsforum/sieve/automod/setstore"
	"github.com/commonsforum/sieve/util/cliutil"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	engine   *engine.Engine
	forum    *forum.Store
	review   *review.Processor
	modToken string
	// reviewer requests fail as misconfigured when no token is set
	requireModToken bool
	forumLimit      echo.MiddlewareFunc
}

type Config struct {
	Logger           *slog.Logger
	Bind             string
	RedisURL         string
	DatabaseURL      string
	MaxDBConnections int
	ModToken         string
	RequireModToken  bool
	QueueTTL         time.Duration
	QueueMaxList     int
	FeedCacheTTL     time.Duration
	RulesFile        string
	SetsFile         string
	Thresholds       risk.Thresholds
	EnableDBTracing  bool
	// per client IP, requests per second, for forum writes; zero disables limiting
	ForumRateLimit float64
	// registry for HTTP request metrics; defaults to the global prometheus registry
	Registerer prometheus.Registerer
}

type backends struct {
	kv       kvstore.Store
	counters countstore.CountStore
	cache    cachestore.CacheStore
}

// Loads the rule catalog and named sets, applying any operator overrides on top of the built-in defaults.
func loadDetection(rulesFile, setsFile string) (*rules.Detector, *linkrisk.Classifier, error) {
	cat := rules.DefaultCatalog()
	if rulesFile != "" {
		c, err := rules.LoadCatalogFile(rulesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading rules file: %w", err)
		}
		cat = c
	}
	sets := setstore.NewDefaultSetStore()
	if setsFile != "" {
		if err := sets.LoadFromFileJSON(setsFile); err != nil {
			return nil, nil, fmt.Errorf("loading sets file: %w", err)
		}
	}
	det := rules.NewDetector(cat, sets.Members(setstore.SetMediaHashBlocklist))
	return det, linkrisk.NewClassifier(sets), nil
}

// Picks storage backends: a SQL database holds content when configured, and redis holds content (otherwise), counters, and caches. Anything not configured falls back to process memory.
func setupBackends(ctx context.Context, config Config) (*backends, error) {
	logger := config.Logger
	b := backends{
		kv:       kvstore.NewMemStore(),
		counters: countstore.NewMemCountStore(),
		cache:    cachestore.NewMemCacheStore(1000, config.FeedCacheTTL),
	}

	var rdb *redis.Client
	if config.RedisURL != "" {
		var err error
		rdb, err = cliutil.SetupRedis(ctx, config.RedisURL)
		if err != nil {
			return nil, err
		}
		b.kv = kvstore.NewRedisStore(rdb)
		b.counters = countstore.NewRedisCountStore(rdb)
		b.cache = cachestore.NewRedisCacheStore(rdb, config.FeedCacheTTL)
	}

	if config.DatabaseURL != "" {
		db, err := cliutil.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
		if err != nil {
			return nil, err
		}
		if config.EnableDBTracing {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		sqlStore, err := kvstore.NewSQLStore(db)
		if err != nil {
			return nil, fmt.Errorf("setting up sql store: %w", err)
		}
		b.kv = sqlStore
	}

	if config.RedisURL == "" && config.DatabaseURL == "" {
		logger.Warn("no redis or database configured; content and queue state will not survive a restart")
	}
	return &b, nil
}

func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
		config.Logger = logger
	}
	if config.FeedCacheTTL <= 0 {
		config.FeedCacheTTL = 30 * time.Second
	}
	if config.Thresholds == (risk.Thresholds{}) {
		config.Thresholds = risk.DefaultThresholds()
	}
	if err := config.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}

	det, links, err := loadDetection(config.RulesFile, config.SetsFile)
	if err != nil {
		return nil, err
	}
	b, err := setupBackends(ctx, config)
	if err != nil {
		return nil, err
	}

	q := queue.New(b.kv, config.QueueTTL, config.QueueMaxList, logger)
	eng := &engine.Engine{
		Logger:     logger,
		Detector:   det,
		Links:      links,
		Thresholds: config.Thresholds,
		Counters:   b.counters,
		Queue:      q,
	}
	fs := &forum.Store{
		KV:     b.kv,
		Engine: eng,
		Cache:  b.cache,
		Logger: logger,
	}
	proc := &review.Processor{
		Queue:   q,
		Log:     b.kv,
		Content: fs,
		Logger:  logger,
	}

	if config.ModToken == "" {
		if config.RequireModToken {
			logger.Error("reviewer token is required but not configured; reviewer endpoints will fail")
		} else {
			logger.Warn("no reviewer token configured; reviewer endpoints are open to anyone")
		}
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4M"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "sieve",
		Registerer: config.Registerer,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))
	e.Use(noStore)

	srv := &Server{
		echo:            e,
		logger:          logger,
		engine:          eng,
		forum:           fs,
		review:          proc,
		modToken:        config.ModToken,
		requireModToken: config.RequireModToken,
		forumLimit:      forumRateLimiter(config.ForumRateLimit),
	}
	srv.httpd = &http.Server{
		Handler:      otelhttp.NewHandler(srv, "sieve"),
		Addr:         config.Bind,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}

	e.HTTPErrorHandler = srv.errorHandler
	srv.RegisterHandlers()
	return srv, nil
}

// Per client IP limiter for content creation. A non-positive limit passes everything through.
func forumRateLimiter(limit float64) echo.MiddlewareFunc {
	if limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     max(1, int(limit*5)),
			ExpiresIn: 10 * time.Minute,
		}),
	})
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RegisterHandlers() {
	e := srv.echo
	e.GET("/_health", srv.HandleHealthCheck)

	mod := e.Group("/api/moderation")
	mod.POST("/score", srv.HandleScore)
	mod.GET("/queue", srv.HandleQueue, srv.requireReviewer)
	mod.POST("/decision", srv.HandleDecision, srv.requireReviewer)
	mod.GET("/decisions", srv.HandleDecisions, srv.requireReviewer)

	fg := e.Group("/api/forum")
	fg.POST("/create", srv.HandleForumCreate, srv.forumLimit)
	fg.POST("/reply", srv.HandleForumReply, srv.forumLimit)
	fg.GET("/feed", srv.HandleForumFeed)
	fg.GET("/post", srv.HandleForumPost)
	fg.GET("/replies", srv.HandleForumReplies)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	srv.logger.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		// Shut down the HTTP server
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		// Trigger the return that causes an exit.
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
