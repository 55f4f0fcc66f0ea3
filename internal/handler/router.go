package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Routes struct {
	Events       *EventHandler
	Destinations *DestinationHandler
	Deliveries   *DeliveryHandler
	JWTSecret    []byte
}

// Register mounts the health check and the authenticated JSON API on r.
func Register(r *gin.Engine, rt Routes) {
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, ".")
	})

	api := r.Group("/api", Auth(rt.JWTSecret))
	{
		api.GET("/integrations", ListIntegrations)
		api.GET("/integrations/:type", GetIntegration)

		api.POST("/events", rt.Events.Ingest)
		api.GET("/events/:eventId/destinations/:id", rt.Deliveries.GetOutcome)

		destinations := api.Group("/destinations")
		{
			destinations.GET("", rt.Destinations.List)
			destinations.POST("", rt.Destinations.Create)
			destinations.POST("/validate", rt.Destinations.Validate)
			destinations.GET("/:id", rt.Destinations.Get)
			destinations.PATCH("/:id", rt.Destinations.SetActive)
			destinations.POST("/:id/test", rt.Destinations.Test)
			destinations.GET("/:id/attempts", rt.Deliveries.ListAttempts)
		}
	}
}
