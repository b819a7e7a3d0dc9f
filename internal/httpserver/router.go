package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trustfund/internal/handler"
	"trustfund/pkg/otel"
	"trustfund/pkg/rbac"
	"trustfund/pkg/util"
)

// Pinger 是 /readyz 检查的依赖（数据库、Redis）
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Escrow    *handler.EscrowHandler
	Token     *handler.TokenHandler
	Auth      *handler.AuthHandler
	Admin     *handler.AdminHandler
	JWTSecret string
	// Deduper 为 nil 时忽略 Idempotency-Key
	Deduper *util.Deduper
	// Ready 按名称列出就绪检查
	Ready  map[string]Pinger
	Logger *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(RequestLogMiddleware(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, dep := range d.Ready {
			if err := dep.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/auth/challenge", d.Auth.Challenge)
	r.POST("/auth/login", d.Auth.Login)
	r.POST("/admin/login", d.Auth.AdminLogin)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(d.JWTSecret))
	idem := IdempotencyMiddleware(d.Deduper)
	{
		auth.POST("/token-accounts", RequirePermission(rbac.PermissionOpenAccount), d.Token.OpenAccount)
		auth.GET("/token-accounts/:address", RequirePermission(rbac.PermissionReadTokenAccount), d.Token.GetAccount)

		auth.POST("/projects", RequirePermission(rbac.PermissionCreateProject), idem, d.Escrow.InitializeProject)
		auth.GET("/projects/:project", RequirePermission(rbac.PermissionReadEscrow), d.Escrow.GetProject)
		auth.GET("/projects/:project/vault", RequirePermission(rbac.PermissionReadEscrow), d.Escrow.GetVault)
		auth.GET("/projects/:project/milestones", RequirePermission(rbac.PermissionReadEscrow), d.Escrow.ListMilestones)
		auth.POST("/projects/:project/milestones", RequirePermission(rbac.PermissionAddMilestone), idem, d.Escrow.AddMilestone)
		auth.POST("/projects/:project/accept", RequirePermission(rbac.PermissionAcceptProject), idem, d.Escrow.AcceptProject)
		auth.POST("/projects/:project/milestones/:id/release", RequirePermission(rbac.PermissionReleaseFunds), idem, d.Escrow.ReleaseFunds)
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(d.JWTSecret))
	{
		admin.POST("/mints", RequirePermission(rbac.PermissionCreateMint), d.Admin.CreateMint)
		admin.POST("/mints/:mint/mint-to", RequirePermission(rbac.PermissionMintTokens), idem, d.Admin.MintTo)
		admin.POST("/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), d.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), d.Admin.ReplayFailedEvents)
	}

	return r
}
