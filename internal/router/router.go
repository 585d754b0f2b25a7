package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"timersync/backend/internal/handler"
	"timersync/backend/internal/middleware"
	"timersync/backend/internal/service"
)

// New wires the HTTP API. billingHandler may be nil when App Store Connect
// credentials are not configured.
func New(
	authService *service.AuthService,
	authHandler *handler.AuthHandler,
	timerHandler *handler.TimerHandler,
	activityHandler *handler.ActivityHandler,
	billingHandler *handler.BillingHandler,
	corsOrigins []string,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	timer := api.Group("/timer")
	timer.Use(middleware.Auth(authService))
	timer.GET("/state", timerHandler.GetState)
	timer.POST("/start", timerHandler.Start)
	timer.POST("/transition", timerHandler.Transition)
	timer.GET("/history", timerHandler.GetHistory)

	activities := api.Group("/activities/:activityId")
	activities.Use(middleware.Auth(authService))
	activities.PUT("/token", activityHandler.RegisterToken)
	activities.DELETE("/token", activityHandler.DeleteToken)
	activities.POST("/push", activityHandler.Push)
	activities.GET("/deliveries", activityHandler.ListDeliveries)

	if billingHandler != nil {
		billing := api.Group("/billing")
		billing.Use(middleware.Auth(authService))
		billing.GET("/subscriptions/:productId", billingHandler.GetSubscription)
		billing.GET("/rate-limit", billingHandler.RateLimit)
	}

	return engine
}
