package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/session"
)

// IMarketService is the read-only market data surface served over HTTP.
type IMarketService interface {
	GetPrice(ctx context.Context, symbol string) (models.MPriceSnapshot, error)
	GetDailyChart(ctx context.Context, symbol string, query models.MChartQuery) ([]models.MCandle, error)
	GetMinuteChart(ctx context.Context, symbol, startTime string, maxPages int) ([]models.MCandle, error)
	GetTrades(ctx context.Context, symbol string) ([]models.MTrade, error)
	GetFluctuationRanking(ctx context.Context, sortType string) ([]models.MRankEntry, error)
	GetVolumeRanking(ctx context.Context) ([]models.MRankEntry, error)
	GetInvestor(ctx context.Context, symbol string) (models.MInvestorSummary, error)
	GetIndex(ctx context.Context, indexCode string) (models.MIndexQuote, error)
	GetMarketOverview(ctx context.Context) ([]models.MPriceSnapshot, error)
	Health(ctx context.Context) map[string]string
	CacheStats(ctx context.Context) models.MCacheStats
}

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config   *models.MConfig
	Logger   *logger.Logger
	Sessions *session.Manager
	Market   IMarketService
	Clock    interfaces.IMarketClock
	Metrics  *metrics.Metrics

	engine  *gin.Engine
	http    *http.Server
	started time.Time

	// WebSocket clients, owned by the hub loop
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, sessions *session.Manager, market IMarketService, clock interfaces.IMarketClock, m *metrics.Metrics, log *logger.Logger) *APIServer {
	if log == nil {
		log = logger.Nop()
	}
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &APIServer{
		Config:     cfg,
		Logger:     log,
		Sessions:   sessions,
		Market:     market,
		Clock:      clock,
		Metrics:    m,
		engine:     gin.New(),
		started:    time.Now(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.engine.Use(ginzap.Ginzap(log.Zap(), time.RFC3339, true))
	s.engine.Use(ginzap.RecoveryWithZap(log.Zap(), true))
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.handleWebsockets()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/stats", s.getStats)
	s.engine.GET("/api/market/status", s.getMarketStatus)

	if s.Metrics != nil && s.Metrics.Registry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	if s.Market != nil {
		stocks := s.engine.Group("/api/stocks")
		{
			stocks.GET("/health/kis", s.getUpstreamHealth)
			stocks.GET("/market", s.getMarketOverview)
			stocks.GET("/index", s.getIndex)
			stocks.GET("/ranking/fluctuation", s.getFluctuationRanking)
			stocks.GET("/ranking/volume", s.getVolumeRanking)
			stocks.GET("/price/:symbol", s.getPrice)
			stocks.GET("/chart/:symbol", s.getDailyChart)
			stocks.GET("/minutechart/:symbol", s.getMinuteChart)
			stocks.GET("/trades/:symbol", s.getTrades)
			stocks.GET("/investor/:symbol", s.getInvestor)
			stocks.GET("/cache/stats", s.getCacheStats)
		}
	}

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router, e.g. for httptest.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop is called.
func (s *APIServer) Start() error {
	s.Logger.Info("Starting server on %s", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes every session with 1001, waits for them to drain, then stops
// the HTTP listener.
func (s *APIServer) Stop(ctx context.Context) error {
	s.Sessions.Shutdown()
	s.waitDrained(ctx)

	err := s.http.Shutdown(ctx)
	s.cancel()
	close(s.done)
	return err
}

func (s *APIServer) waitDrained(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if total, _ := s.Sessions.Registry.Counts(); total == 0 {
			return
		}
		select {
		case <-ctx.Done():
			s.Logger.Warning("Shutdown deadline reached with sessions still open")
			return
		case <-ticker.C:
		}
	}
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	total, _ := s.Sessions.Registry.Counts()
	respondOK(c, gin.H{
		"status":      "ok",
		"service":     s.Config.Name,
		"connections": total,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      int64(time.Since(s.started).Seconds()),
	})
}

func (s *APIServer) getStats(c *gin.Context) {
	respondOK(c, s.Sessions.Stats())
}

func (s *APIServer) getMarketStatus(c *gin.Context) {
	respondOK(c, s.Clock.Status(time.Now()))
}

// -----------------------------------------------------------------------------

func (s *APIServer) getUpstreamHealth(c *gin.Context) {
	status := s.Market.Health(c.Request.Context())
	for _, v := range status {
		if v != "ok" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "data": status})
			return
		}
	}
	respondOK(c, status)
}

func (s *APIServer) getMarketOverview(c *gin.Context) {
	overview, err := s.Market.GetMarketOverview(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, overview)
}

func (s *APIServer) getIndex(c *gin.Context) {
	quote, err := s.Market.GetIndex(c.Request.Context(), c.DefaultQuery("code", "0001"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, quote)
}

func (s *APIServer) getFluctuationRanking(c *gin.Context) {
	entries, err := s.Market.GetFluctuationRanking(c.Request.Context(), c.DefaultQuery("type", "0"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, entries)
}

func (s *APIServer) getVolumeRanking(c *gin.Context) {
	entries, err := s.Market.GetVolumeRanking(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, entries)
}

func (s *APIServer) getPrice(c *gin.Context) {
	snap, err := s.Market.GetPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snap, "source": snap.Source})
}

func (s *APIServer) getDailyChart(c *gin.Context) {
	query := models.MChartQuery{
		Period: c.DefaultQuery("period", "D"),
		Start:  c.Query("startDate"),
		End:    c.Query("endDate"),
	}
	candles, err := s.Market.GetDailyChart(c.Request.Context(), c.Param("symbol"), query)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, candles)
}

func (s *APIServer) getMinuteChart(c *gin.Context) {
	pages, err := queryInt(c, "pages", 0)
	if err != nil {
		s.respondError(c, err)
		return
	}
	candles, err := s.Market.GetMinuteChart(c.Request.Context(), c.Param("symbol"), c.Query("time"), pages)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, candles)
}

func (s *APIServer) getTrades(c *gin.Context) {
	trades, err := s.Market.GetTrades(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, trades)
}

func (s *APIServer) getInvestor(c *gin.Context) {
	summary, err := s.Market.GetInvestor(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, summary)
}

func (s *APIServer) getCacheStats(c *gin.Context) {
	respondOK(c, s.Market.CacheStats(c.Request.Context()))
}
