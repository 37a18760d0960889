package router

import (
	"net/http"

	"github.com/blueprintlabs/playbook-worker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "playbook-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - webhook/manual job creation, internal only
			jobs.POST("", BearerAuthMiddleware(deps.AuthToken), jobHandler.CreateJob)

			// GET /api/v1/jobs/:job_id - full job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		// GET /api/v1/status/:slug - user-facing status by slug
		v1.GET("/status/:slug", jobHandler.GetJobStatus)
	}

	return r
}
