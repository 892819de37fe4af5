package app

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/echocast/core/internal/middleware"
	"github.com/echocast/core/internal/modules/gateway"
	"github.com/echocast/core/internal/modules/health"
	"github.com/echocast/core/internal/modules/pipeline"
	jwtpkg "github.com/echocast/core/internal/pkg/jwt"
	"github.com/echocast/core/internal/pkg/response"
)

const adminTokenTTL = 7 * 24 * time.Hour

func (a *App) registerRoutes() {
	r := a.router

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	appInfo := gin.H{
		"name":     "echocast-core",
		"version":  "1.0.0",
		"homepage": "https://github.com/echocast/core",
	}

	// WebSocket gateway (own transport, outside the API group).
	r.Any("/socket.io/*any", gin.WrapH(a.hub.Handler()))

	api := r.Group("/api")
	admin := api.Group("", middleware.RequireAuth())

	api.GET("", func(c *gin.Context) { c.PureJSON(http.StatusOK, appInfo) })
	api.GET("/info", func(c *gin.Context) { c.PureJSON(http.StatusOK, appInfo) })
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })
	api.GET("/uptime", func(c *gin.Context) {
		uptimeMs := time.Since(processStart).Milliseconds()
		c.JSON(http.StatusOK, gin.H{
			"timestamp": uptimeMs,
			"humanize":  humanizeDuration(time.Duration(uptimeMs) * time.Millisecond),
		})
	})

	api.GET("/gateway/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"live":  a.hub.ClientCount(gateway.RoomLive),
			"admin": a.hub.ClientCount(gateway.RoomAdmin),
			"total": a.hub.ClientCount(""),
		})
	})

	// Token exchange: the configured jwt_secret buys a short-lived admin
	// token for the REST control surface and the gateway admin namespace.
	api.POST("/auth/token", a.issueToken)

	pipeline.NewHandler(a.svc, a.db).Register(api, admin)
	health.NewHandler(a.monitor, a.db).Register(api, admin)

	// Cron task management (admin)
	admin.GET("/cron", func(c *gin.Context) {
		response.OK(c, a.sched.List())
	})
	admin.POST("/cron/:name/run", func(c *gin.Context) {
		if err := a.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
			response.NotFoundMsg(c, err.Error())
			return
		}
		response.Accepted(c, gin.H{"name": c.Param("name")})
	})
}

type issueTokenBody struct {
	Secret string `json:"secret"`
}

func (a *App) issueToken(c *gin.Context) {
	var body issueTokenBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Secret) == "" {
		response.BadRequest(c, "secret is required")
		return
	}

	secret := strings.TrimSpace(a.cfg.JWTSecret)
	if secret == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(body.Secret)), []byte(secret)) != 1 {
		response.Unauthorized(c)
		return
	}

	token, err := jwtpkg.Sign("admin", adminTokenTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{
		"token":      token,
		"expires_in": int(adminTokenTTL.Seconds()),
	})
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	if d < time.Hour {
		return d.Truncate(time.Minute).String()
	}
	if d < 24*time.Hour {
		return d.Truncate(time.Hour).String()
	}
	return d.Truncate(24 * time.Hour).String()
}

var processStart = time.Now()
