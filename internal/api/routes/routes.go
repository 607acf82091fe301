package routes

import (
	"time"

	"gateway-service/internal/activity"
	"gateway-service/internal/api/handlers"
	"gateway-service/internal/api/middleware"
	"gateway-service/internal/presence"
	"gateway-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	engine          *gin.Engine
	wsHandler       *handlers.WSHandler
	presenceHandler *handlers.PresenceHandler
	activityHandler *handlers.ActivityHandler
	healthHandler   *handlers.HealthHandler
	rateLimitMW     *middleware.RateLimitMiddleware
	authMW          *middleware.AuthMiddleware
}

func NewRouter(
	hub *websocket.Hub,
	registry *presence.Registry,
	activityRepo *activity.Repository,
	redisClient *redis.Client,
	db *gorm.DB,
	jwtSecret string,
	allowedOrigins []string,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(allowedOrigins))
	engine.Use(middleware.RequestLogger())

	return &Router{
		engine:          engine,
		wsHandler:       handlers.NewWSHandler(hub),
		presenceHandler: handlers.NewPresenceHandler(registry),
		activityHandler: handlers.NewActivityHandler(activityRepo),
		healthHandler:   handlers.NewHealthHandler(redisClient, db),
		rateLimitMW:     middleware.NewRateLimitMiddleware(redisClient),
		authMW:          middleware.NewAuthMiddleware(jwtSecret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Healthz)

	api := r.engine.Group("/api/v1")

	// WebSocket handshake carries the token as a query parameter
	api.GET("/ws",
		r.authMW.RequireWSAuth(),
		r.wsHandler.HandleWebSocket,
	)

	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		presenceRoutes := auth.Group("/presence")
		presenceRoutes.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			presenceRoutes.GET("/online-users", r.presenceHandler.GetOnlineUsers)
		}

		activityRoutes := auth.Group("/activity-logs")
		activityRoutes.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			activityRoutes.GET("/", r.activityHandler.ListActivityLogs)
			activityRoutes.POST("/", r.activityHandler.CreateActivityLog)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
