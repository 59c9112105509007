package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"marketchat/internal/infra/config"
	"marketchat/internal/infra/obs"
)

type StreamHTTP interface {
	Stream(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Stream         StreamHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.POST("/listings/:id/conversation", h.Chat.OpenConversation)
		chatGroup := api.Group("/chat/conversations")
		chatGroup.GET("", h.Chat.Inbox)
		chatGroup.GET("/:id/messages", h.Chat.ListMessages)
		chatGroup.POST("/:id/messages", h.Chat.SendMessage)
		chatGroup.POST("/:id/read", h.Chat.MarkRead)
		chatGroup.POST("/:id/block", h.Chat.SetBlocked)
		meGroup := api.Group("/me")
		meGroup.GET("/unread", h.Chat.Unread)
		meGroup.POST("/unread/reconcile", h.Chat.ReconcileUnread)
	}
	if h.Stream != nil {
		api.GET("/chat/stream", h.Stream.Stream)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
