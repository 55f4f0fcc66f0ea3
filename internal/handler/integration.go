package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zachbroad/webhook-dispatch/internal/integration"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

// ListIntegrations serves the catalog of supported integration types.
func ListIntegrations(c *gin.Context) {
	c.JSON(http.StatusOK, integration.Descriptors())
}

func GetIntegration(c *gin.Context) {
	d, ok := integration.Describe(model.IntegrationType(c.Param("type")))
	if !ok {
		c.String(http.StatusNotFound, "unknown integration type")
		return
	}
	c.JSON(http.StatusOK, d)
}
