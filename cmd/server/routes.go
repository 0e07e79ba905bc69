package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/app"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/cache"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/evaluator"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/middleware"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/privacy"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/report"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/security"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

const version = "1.0.0"

type server struct {
	app         *app.App
	store       *leaderboard.Store
	guard       *security.Guard
	compression *middleware.CompressionMiddleware
}

func newServer(a *app.App) *server {
	// reports need somewhere to live even when response caching is off
	backend := a.ReportBackend
	if backend == nil {
		backend = cache.NewMemoryBackend()
	}

	securityConfig := security.DefaultConfig()
	if a.Config.Server.RequestTimeout > 0 {
		securityConfig.RequestTimeout = a.Config.Server.RequestTimeout
	}
	securityConfig.EnableHSTS = a.Config.Server.EnableHSTS

	return &server{
		app:         a,
		store:       leaderboard.NewStore(backend, a.Config.Server.ReportTTL, a.Logger.Logger),
		guard:       security.NewGuard(securityConfig),
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
	}
}

func (s *server) router() *gin.Engine {
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.app.Config.Server.AllowedOrigins
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Run-ID", "X-Report-Partial", "X-RateLimit-Remaining", "Retry-After"}
	r.Use(cors.New(corsConfig))

	// Add monitoring middleware first (to capture all requests)
	r.Use(monitoring.MonitoringMiddleware(s.app.Metrics, s.app.Logger))

	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	r.Use(s.guard.SecurityHeaders)
	r.Use(s.guard.RequestTimeout)
	r.Use(s.compression.Handler())

	r.GET("/health", s.health)
	r.GET("/metrics", s.metrics)

	r.GET("/presets", s.presets)
	r.GET("/weights", s.weights)

	r.POST("/evaluate", s.app.Limiter.ClientRateLimitMiddleware(), s.guard.ValidateContentType, s.evaluate)

	r.GET("/reports", s.listReports)
	r.GET("/reports/:id", s.getReport)
	r.GET("/reports/:id/leaderboard", s.getLeaderboard)

	r.GET("/cache/stats", s.cacheStats)
	r.DELETE("/cache", s.clearCache)
	r.POST("/breakers/reset", s.resetBreakers)

	// Swagger documentation routes
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

func respondError(c *gin.Context, err error) {
	appErr := errors.ToAppError(err)
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr)
}

func (s *server) health(c *gin.Context) {
	sources := make(map[types.Source]bool, len(s.app.Sources))
	for _, src := range s.app.Sources {
		sources[src.Name()] = src.Enabled()
	}

	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   version,
		"sources":   sources,
		"cache":     s.app.Config.Cache.Backend,
	}

	if s.app.Redis != nil && s.app.Redis.IsEnabled() {
		if err := s.app.Redis.HealthCheck(c.Request.Context()); err != nil {
			response["status"] = "degraded"
			response["redis"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response["redis"] = "ok"
	}

	c.JSON(http.StatusOK, response)
}

func (s *server) metrics(c *gin.Context) {
	stats := gin.H{
		"requests":         s.app.Metrics.GetStats(),
		"rate_limits":      s.app.Limiter.GetStats(),
		"circuit_breakers": s.app.Breakers.GetStats(),
		"compression":      s.compression.GetStats(),
	}
	if s.app.Redis != nil {
		stats["redis"] = s.app.Redis.GetPoolStats()
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) presets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"presets": s.app.Weights.ListPresets(),
		"default": s.app.Config.WeightsPreset,
	})
}

func (s *server) weights(c *gin.Context) {
	preset := c.Query("preset")
	w, err := s.app.ResolveWeights(preset, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preset": preset, "weights": w.ToMap()})
}

type userRequest struct {
	ID      string            `json:"id" binding:"required"`
	Handles map[string]string `json:"handles"`
}

type evaluateRequest struct {
	Users        []userRequest      `json:"users" binding:"required,min=1,dive"`
	Start        string             `json:"start"`
	End          string             `json:"end"`
	Preset       string             `json:"preset"`
	Weights      map[string]float64 `json:"weights"`
	Format       string             `json:"format"`
	Anonymize    bool               `json:"anonymize"`
	RedactTitles bool               `json:"redact_titles"`
}

func (s *server) toRequest(body evaluateRequest) (evaluator.Request, error) {
	window, err := types.ParseWindow(body.Start, body.End)
	if err != nil {
		return evaluator.Request{}, errors.NewValidationError(err.Error())
	}

	users := make([]evaluator.User, 0, len(body.Users))
	for _, u := range body.Users {
		handles := make(map[types.Source]string, len(u.Handles))
		for name, handle := range u.Handles {
			src := types.Source(name)
			if !src.Valid() {
				return evaluator.Request{}, errors.NewValidationError("unknown source in handles: " + name)
			}
			handles[src] = handle
		}
		if err := s.guard.ValidateUser(u.ID, handles); err != nil {
			return evaluator.Request{}, err
		}
		users = append(users, evaluator.User{ID: u.ID, Handles: handles})
	}
	return evaluator.Request{Users: users, Window: window}, nil
}

func (s *server) evaluate(c *gin.Context) {
	var body evaluateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	format, err := report.ParseFormat(body.Format)
	if err != nil {
		respondError(c, err)
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		respondError(c, err)
		return
	}
	w, err := s.app.ResolveWeights(body.Preset, body.Weights)
	if err != nil {
		respondError(c, err)
		return
	}
	ev, err := s.app.Evaluator(w)
	if err != nil {
		respondError(c, err)
		return
	}

	slog.Info("Starting evaluation", "users", len(req.Users), "preset", body.Preset, "ip", c.ClientIP())

	result, err := ev.Evaluate(c.Request.Context(), req)
	if result == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		slog.Warn("Evaluation interrupted, returning partial report", "run_id", result.RunID, "error", err)
	}

	if body.Anonymize || body.RedactTitles {
		result = s.anonymizer(body.RedactTitles).Report(result)
	}
	s.store.Save(c.Request.Context(), result)

	c.Header("X-Run-ID", result.RunID)
	if result.Partial {
		c.Header("X-Report-Partial", "true")
	}
	s.render(c, format, result)
}

func (s *server) anonymizer(redactTitles bool) *privacy.Anonymizer {
	if !redactTitles {
		return s.app.Anonymizer
	}
	return privacy.New(privacy.WithSalt(s.app.Config.AnonymizeSalt), privacy.WithRedactedTitles())
}

func (s *server) render(c *gin.Context, format report.Format, r *evaluator.Report) {
	var buf bytes.Buffer
	if err := report.RenderFormat(&buf, format, r); err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (s *server) listReports(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		respondError(c, errors.NewValidationError("limit must be a positive integer"))
		return
	}
	ids, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": ids, "count": len(ids)})
}

func (s *server) getReport(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}
	r, ok := s.store.Report(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if anon, _ := strconv.ParseBool(c.Query("anonymize")); anon {
		r = s.app.Anonymizer.Report(r)
	}
	s.render(c, format, r)
}

func (s *server) getLeaderboard(c *gin.Context) {
	board, ok := s.store.Board(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(c, errors.NewValidationError("limit must be a positive integer"))
			return
		}
		board.Entries = board.Top(limit)
	}
	c.JSON(http.StatusOK, board)
}

func (s *server) cacheStats(c *gin.Context) {
	if s.app.CacheBackend == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	stats, err := s.app.CacheBackend.Stats(c.Request.Context())
	if err != nil {
		respondError(c, errors.NewCacheIOError("stats", "", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "backend": s.app.Config.Cache.Backend, "stats": stats})
}

func (s *server) clearCache(c *gin.Context) {
	if s.app.CacheBackend == nil {
		c.JSON(http.StatusOK, gin.H{"removed": 0})
		return
	}
	n, err := s.app.CacheBackend.Clear(c.Request.Context())
	if err != nil {
		respondError(c, errors.NewCacheIOError("clear", "", err))
		return
	}
	slog.Info("Cache cleared", "removed", n, "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *server) resetBreakers(c *gin.Context) {
	s.app.Breakers.ResetAll()
	slog.Info("Circuit breakers reset", "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"circuit_breakers": s.app.Breakers.GetStats()})
}
