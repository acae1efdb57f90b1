package client

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"

	"github.com/openhaul/haulbox/internal/client/handlers"
	"github.com/openhaul/haulbox/internal/client/middleware"
	"github.com/openhaul/haulbox/internal/upload"
	"github.com/openhaul/haulbox/internal/version"
)

type RouteConfig struct {
	Auth middleware.TokenAuthConfig
}

func SetupRoutes(coordinator *upload.UploadCoordinator, routeConfig *RouteConfig) http.Handler {
	r := gin.New()

	rateLimitStore := memory.NewStore()
	rateLimiter := limiter.New(rateLimitStore, limiter.Rate{
		Period: 1 * time.Second,
		Limit:  10,
	})

	uploadH := handlers.NewUploadHandler(coordinator)
	statusH := handlers.NewStatusHandler(coordinator)

	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(routeConfig.Auth))
	{
		v1.GET("/status", statusH.Status)

		v1.POST("/scan", uploadH.Scan)
		v1.POST("/batches", uploadH.SubmitBatch)

		v1Sessions := v1.Group("/sessions")
		{
			v1Sessions.GET("", uploadH.List)
			v1Sessions.GET("/:id", uploadH.Get)
			v1Sessions.POST("/:id/pause", uploadH.Pause)
			v1Sessions.POST("/:id/resume", uploadH.Resume)
			v1Sessions.POST("/:id/retry", uploadH.Retry)
			v1Sessions.DELETE("/:id", uploadH.Cancel)
		}

		v1.GET("/progress", uploadH.Progress)
		v1.GET("/active", uploadH.Active)
		v1.DELETE("/completed", uploadH.ClearCompleted)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}
