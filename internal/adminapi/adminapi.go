// Package adminapi exposes the thin admin HTTP surface using gin. It is
// authenticated by a single static bearer token from configuration; admin
// operations are an operator convenience, not a user-facing API, so a full
// auth system is deliberately out of scope.
package adminapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/queue"
	"github.com/promptchallenge/engine/internal/reward"
	"github.com/promptchallenge/engine/internal/storage"
)

// Server wires the admin routes and the Prometheus /metrics endpoint onto
// a gin engine.
type Server struct {
	store     storage.Storage
	cfg       *config.Registry
	pool      *queue.WorkerPool
	gatherer  prometheus.Gatherer
	token     string
	startedAt time.Time
}

// New constructs a Server. gatherer is the registry /metrics serves (nil
// falls back to the default registry); token is the bearer token admin
// requests must present, and an empty token disables auth (local/dev only).
func New(store storage.Storage, cfg *config.Registry, pool *queue.WorkerPool, gatherer prometheus.Gatherer, token string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{store: store, cfg: cfg, pool: pool, gatherer: gatherer, token: token, startedAt: time.Now()}
}

// Register mounts every route onto r.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	admin := r.Group("/admin")
	admin.Use(s.auth)
	admin.POST("/toggle", s.handleToggle)
	admin.POST("/reload", s.handleReload)
	admin.GET("/stats", s.handleStats)
	admin.POST("/ban", s.handleBan)
	admin.POST("/unban", s.handleUnban)
	admin.POST("/users/:id/levels/:level/reset", s.handleResetSession)
	admin.POST("/queue/clear", s.handleClearQueue)
	admin.GET("/logs/export", s.handleExportLogs)
}

func (s *Server) auth(c *gin.Context) {
	if s.token == "" {
		c.Next()
		return
	}
	got := c.GetHeader("Authorization")
	if got != "Bearer "+s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	dbErr := s.store.Ping(ctx)
	depth, _ := s.store.QueueDepth(ctx)

	status := http.StatusOK
	health := gin.H{
		"status":      "healthy",
		"uptime_s":    int(time.Since(s.startedAt).Seconds()),
		"queue_depth": depth,
		"workers":     s.pool.Health(),
	}
	if dbErr != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "unhealthy"
		health["error"] = dbErr.Error()
	}
	c.JSON(status, health)
}

func (s *Server) handleToggle(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The activity toggle lives in the YAML document, not the database;
	// an operator flips it there and hits /admin/reload. This endpoint is
	// kept for symmetry with the other admin operations and reports the
	// currently-loaded value until a reload picks up a change.
	c.JSON(http.StatusOK, gin.H{"enabled": s.cfg.Get().Activity.Enabled, "note": "edit activity.yaml and POST /admin/reload to change this"})
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.cfg.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	// A reload is only complete once the reward inventory is re-seeded:
	// new items get claimed_count=0 rows, existing rows keep their
	// claimed_count, and items dropped from the document are disabled.
	if err := reward.Reconcile(c.Request.Context(), s.store, s.cfg.Get()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "config reloaded but reward reconcile failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "stats": s.cfg.Get().Stats()})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	depth, _ := s.store.QueueDepth(ctx)
	claims, _ := s.store.TodayClaimCount(ctx)
	c.JSON(http.StatusOK, gin.H{
		"config":            s.cfg.Get().Stats(),
		"queue_depth":       depth,
		"claims_today":      claims,
		"workers":           s.pool.Health(),
	})
}

func (s *Server) handleBan(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetBanned(c.Request.Context(), body.UserID, true, body.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "banned"})
}

func (s *Server) handleUnban(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetBanned(c.Request.Context(), body.UserID, false, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unbanned"})
}

// handleResetSession clears a user's (user, level) session state without
// revoking any prior reward claim.
func (s *Server) handleResetSession(c *gin.Context) {
	userID := c.Param("id")
	levelID, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level id"})
		return
	}
	if err := s.store.ResetSession(c.Request.Context(), userID, levelID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleClearQueue(c *gin.Context) {
	n, err := s.store.ClearQueue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) handleExportLogs(c *gin.Context) {
	dateStr := c.Query("date")
	day := time.Now()
	if dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	events, err := s.store.ExportLogEvents(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day.Format("2006-01-02"), "events": events})
}
