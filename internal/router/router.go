package router

import (
	"context"
	"net/http"
	"strings"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/handler"
	"github.com/blues/agapay/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminHeader 审核员钱包地址请求头
const AdminHeader = "X-Wallet-Address"

// HealthChecker 由 chain.Manager 实现
type HealthChecker interface {
	GetHealthStatus(ctx context.Context) map[string]interface{}
}

// Deps 路由依赖
type Deps struct {
	Config      *config.Config
	Campaigns   handler.CampaignService
	Submissions handler.SubmissionService
	Approvals   handler.ApprovalService
	Divergences handler.DivergenceLister
	Monitor     *metrics.Monitor
	Health      HealthChecker
}

func Setup(deps Deps) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "agapay",
		}
		if deps.Health != nil {
			chain := deps.Health.GetHealthStatus(c.Request.Context())
			body["chain"] = chain
			if chain["client_status"] != "connected" {
				body["status"] = "degraded"
			}
		}
		c.JSON(http.StatusOK, body)
	})

	// 监控
	if deps.Monitor != nil {
		registry := prometheus.NewRegistry()
		registry.MustRegister(deps.Monitor.GetPrometheusCollector())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		r.GET("/api/v1/state", deps.Monitor.OnGetState)
	}

	// API版本组
	v1 := r.Group("/api/v1")
	{
		campaignHandler := handler.NewCampaignHandler(deps.Campaigns, deps.Submissions)
		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("", campaignHandler.ListCampaigns)
			campaigns.GET("/:address", campaignHandler.GetCampaign)
			campaigns.POST("/:address/donate", campaignHandler.Donate)
			campaigns.POST("/:address/withdraw", campaignHandler.Withdraw)
		}
		v1.GET("/users/:address/campaigns", campaignHandler.GetUserCampaigns)

		submissionHandler := handler.NewSubmissionHandler(deps.Submissions)
		submissions := v1.Group("/submissions")
		{
			submissions.POST("", submissionHandler.CreateSubmission)
			submissions.GET("/:id", submissionHandler.GetSubmission)
		}

		// 审核员接口
		moderationHandler := handler.NewModerationHandler(deps.Submissions, deps.Approvals, deps.Divergences)
		admin := v1.Group("/admin", adminMiddleware(deps.Config.Moderation))
		{
			admin.GET("/moderation/pending", moderationHandler.GetPending)
			admin.POST("/moderation/:id/approve", moderationHandler.Approve)
			admin.POST("/moderation/:id/reject", moderationHandler.Reject)
			admin.GET("/moderation/attempts", moderationHandler.GetAttempts)
			admin.GET("/rejection-reasons", moderationHandler.GetRejectionReasons)
			admin.GET("/reconciliation", moderationHandler.GetDivergences)
			admin.POST("/reconciliation/:id/resolve", moderationHandler.ResolveDivergence)
		}
	}

	return r
}

// adminMiddleware 只允许配置中的管理员钱包
func adminMiddleware(cfg config.ModerationConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := strings.TrimSpace(c.GetHeader(AdminHeader))
		if address == "" {
			handler.ErrorResponse(c, http.StatusUnauthorized, "wallet address header is required")
			c.Abort()
			return
		}
		if !cfg.IsAdmin(address) {
			handler.ErrorResponse(c, http.StatusForbidden, "wallet is not an administrator")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+AdminHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
