package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/terminal-bench/timemarket/internal/auth"
	"github.com/terminal-bench/timemarket/internal/exchange"
	"github.com/terminal-bench/timemarket/internal/governor"
	"github.com/terminal-bench/timemarket/internal/stream"
	"github.com/terminal-bench/timemarket/internal/telemetry"
	"github.com/terminal-bench/timemarket/pkg/payments"
)

// Gateway is the HTTP surface of the exchange. It owns no accounting
// state; every operation goes straight to the serialized engine.
type Gateway struct {
	router      *gin.Engine
	engine      *exchange.Engine
	gov         *governor.Governor
	auth        *auth.Service
	feed        *stream.Feed
	cache       *redis.Client
	metrics     *telemetry.Recorder
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	cacheTTL    time.Duration
}

// Config holds gateway configuration.
type Config struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	CacheTTL        time.Duration
}

// RateLimiter implements a sliding window rate limit per client IP.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// Allow reports whether another request from ip fits in the window.
func (r *RateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.requests[ip][:0]
	for _, t := range r.requests[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.limit {
		r.requests[ip] = kept
		return false
	}

	r.requests[ip] = append(kept, now)
	return true
}

// NewGateway creates the HTTP gateway. Feed, cache and metrics are
// optional.
func NewGateway(cfg Config, engine *exchange.Engine, gov *governor.Governor, authSvc *auth.Service, feed *stream.Feed, cache *redis.Client, metrics *telemetry.Recorder) *Gateway {
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Second
	}

	g := &Gateway{
		router:  gin.Default(),
		engine:  engine,
		gov:     gov,
		auth:    authSvc,
		feed:    feed,
		cache:   cache,
		metrics: metrics,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cacheTTL: cfg.CacheTTL,
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/auth/token", g.issueToken)

		// Marketplace
		v1.POST("/listings", g.authMiddleware(), g.registerListing)
		v1.DELETE("/listings", g.authMiddleware(), g.cancelListing)
		v1.POST("/acquire", g.authMiddleware(), g.acquire)

		// Ledger
		v1.POST("/purchase", g.authMiddleware(), g.purchase)
		v1.POST("/transfer", g.authMiddleware(), g.transfer)
		v1.POST("/compensation", g.authMiddleware(), g.compensate)
		v1.POST("/credit/withdraw", g.authMiddleware(), g.withdrawCredit)

		// Sessions
		v1.POST("/sessions", g.authMiddleware(), g.beginSession)
		v1.DELETE("/sessions", g.authMiddleware(), g.endSession)

		// Read-only queries
		v1.GET("/accounts/:account", g.getAccount)
		v1.GET("/listings/:account", g.getListing)
		v1.GET("/params", g.getParams)

		// Governor
		admin := v1.Group("/admin", g.authMiddleware())
		{
			admin.PUT("/params/tariff", g.setTariff)
			admin.PUT("/params/ceiling", g.setCeiling)
			admin.PUT("/params/fee", g.setFee)
			admin.PUT("/params/compensation", g.setCompensation)
			admin.POST("/halt", g.halt)
			admin.POST("/resume", g.resume)
		}

		// Event stream
		v1.GET("/ws", g.handleWebSocket)
	}
}

// Router exposes the router for the HTTP server and tests.
func (g *Gateway) Router() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		const prefix = "Bearer "
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			header = header[len(prefix):]
		}

		claims, err := g.auth.VerifyToken(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("account_id", claims.AccountID)
		c.Next()
	}
}

func caller(c *gin.Context) string {
	return c.GetString("account_id")
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (g *Gateway) issueToken(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := g.auth.IssueToken(req.AccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (g *Gateway) registerListing(c *gin.Context) {
	var req struct {
		Intervals uint64 `json:"intervals"`
		Tariff    uint64 `json:"tariff"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("register_listing", func() error {
		return g.engine.RegisterListing(c.Request.Context(), caller(c), req.Intervals, req.Tariff)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "listed"})
}

func (g *Gateway) cancelListing(c *gin.Context) {
	err := g.record("cancel_listing", func() error {
		return g.engine.CancelListing(c.Request.Context(), caller(c))
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (g *Gateway) acquire(c *gin.Context) {
	var req struct {
		Provider  string `json:"provider" binding:"required"`
		Intervals uint64 `json:"intervals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("acquire", func() error {
		return g.engine.Acquire(c.Request.Context(), caller(c), req.Provider, req.Intervals)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acquired"})
}

func (g *Gateway) purchase(c *gin.Context) {
	var req struct {
		Intervals uint64 `json:"intervals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("purchase", func() error {
		return g.engine.Purchase(c.Request.Context(), caller(c), req.Intervals)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	g.metrics.RecordAllocation(g.engine.Allocated())
	c.JSON(http.StatusOK, gin.H{"status": "purchased", "allocated": g.engine.Allocated()})
}

func (g *Gateway) transfer(c *gin.Context) {
	var req struct {
		Beneficiary string `json:"beneficiary" binding:"required"`
		Intervals   uint64 `json:"intervals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("transfer", func() error {
		return g.engine.Transfer(c.Request.Context(), caller(c), req.Beneficiary, req.Intervals)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "transferred"})
}

func (g *Gateway) compensate(c *gin.Context) {
	var req struct {
		Intervals uint64 `json:"intervals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("early_departure_compensation", func() error {
		return g.engine.CompensateEarlyDeparture(c.Request.Context(), caller(c), req.Intervals)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	g.metrics.RecordAllocation(g.engine.Allocated())
	c.JSON(http.StatusOK, gin.H{"status": "compensated"})
}

func (g *Gateway) withdrawCredit(c *gin.Context) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("withdraw_credit", func() error {
		return g.engine.WithdrawCredit(c.Request.Context(), caller(c), req.Amount)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "withdrawn"})
}

func (g *Gateway) beginSession(c *gin.Context) {
	var req struct {
		Intervals uint64 `json:"intervals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.record("begin_session", func() error {
		return g.engine.BeginSession(c.Request.Context(), caller(c), req.Intervals)
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "active"})
}

func (g *Gateway) endSession(c *gin.Context) {
	reclaim := c.DefaultQuery("reclaim", "true") == "true"

	var reclaimed uint64
	err := g.record("end_session", func() error {
		var err error
		reclaimed, err = g.engine.EndSession(c.Request.Context(), caller(c), reclaim)
		return err
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended", "reclaimed": reclaimed})
}

func (g *Gateway) getAccount(c *gin.Context) {
	account := c.Param("account")

	resp := gin.H{
		"account": account,
		"balance": g.engine.Balance(account),
		"credit":  g.engine.Credit(account),
	}
	if s, ok := g.engine.Session(account); ok && s.Active {
		resp["session"] = s
	}
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) getListing(c *gin.Context) {
	account := c.Param("account")

	listing, ok := g.engine.Listing(account)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no listing"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (g *Gateway) getParams(c *gin.Context) {
	const cacheKey = "timemarket:params"

	if g.cache != nil {
		if cached, err := g.cache.Get(c.Request.Context(), cacheKey).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}
	}

	resp := gin.H{
		"params":    g.engine.Params(),
		"allocated": g.engine.Allocated(),
	}

	if g.cache != nil {
		if payload, err := json.Marshal(resp); err == nil {
			g.cache.Set(c.Request.Context(), cacheKey, payload, g.cacheTTL)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Governor handlers. The governor re-checks the operator identity; the
// gateway only authenticates the caller.

type valueRequest struct {
	Value uint64 `json:"value"`
}

func (g *Gateway) setTariff(c *gin.Context) {
	g.adminUpdate(c, func(ctx context.Context, who string, v uint64) error {
		return g.gov.SetTariff(ctx, who, v)
	})
}

func (g *Gateway) setCeiling(c *gin.Context) {
	g.adminUpdate(c, func(ctx context.Context, who string, v uint64) error {
		return g.gov.SetAccountCeiling(ctx, who, v)
	})
}

func (g *Gateway) setFee(c *gin.Context) {
	g.adminUpdate(c, func(ctx context.Context, who string, v uint64) error {
		return g.gov.SetFeePercent(ctx, who, v)
	})
}

func (g *Gateway) setCompensation(c *gin.Context) {
	g.adminUpdate(c, func(ctx context.Context, who string, v uint64) error {
		return g.gov.SetCompensationPercent(ctx, who, v)
	})
}

func (g *Gateway) adminUpdate(c *gin.Context, fn func(ctx context.Context, who string, v uint64) error) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := fn(c.Request.Context(), caller(c), req.Value); err != nil {
		g.fail(c, err)
		return
	}
	g.invalidateParamsCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (g *Gateway) halt(c *gin.Context) {
	if err := g.gov.Halt(c.Request.Context(), caller(c)); err != nil {
		g.fail(c, err)
		return
	}
	g.invalidateParamsCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "halted"})
}

func (g *Gateway) resume(c *gin.Context) {
	if err := g.gov.Resume(c.Request.Context(), caller(c)); err != nil {
		g.fail(c, err)
		return
	}
	g.invalidateParamsCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (g *Gateway) invalidateParamsCache(ctx context.Context) {
	if g.cache != nil {
		g.cache.Del(ctx, "timemarket:params")
	}
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	if g.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sub := g.feed.Attach(conn)

	// Read pump: consume (and discard) client frames so pings/pongs and
	// close frames are processed.
	go func() {
		defer g.feed.Detach(sub.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// record times an operation and reports it to telemetry.
func (g *Gateway) record(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	g.metrics.RecordOperation(op, err, time.Since(start))
	return err
}

// fail maps a typed engine/governor error onto an HTTP status.
func (g *Gateway) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, exchange.ErrIntervalInvalid),
		errors.Is(err, exchange.ErrTariffInvalid),
		errors.Is(err, exchange.ErrIdenticalAccount),
		errors.Is(err, governor.ErrTariffInvalid),
		errors.Is(err, governor.ErrCeilingInvalid),
		errors.Is(err, governor.ErrCommissionInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, exchange.ErrAllocationShortage),
		errors.Is(err, exchange.ErrCompensationFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.Is(err, payments.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})

	case errors.Is(err, exchange.ErrAllocationCeiling),
		errors.Is(err, exchange.ErrAlreadyOccupying),
		errors.Is(err, exchange.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, exchange.ErrHalted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	case errors.Is(err, governor.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
