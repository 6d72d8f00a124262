package server

import (
	"net/http"

	"github.com/OFFIS-RIT/agentkg/internal/server/middleware"
	"github.com/OFFIS-RIT/agentkg/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)
	apiRoutes.POST("/batches", routes.SubmitBatchHandler, middleware.RequirePermission(middleware.PermBatchCreate))
	apiRoutes.GET("/ontology/:domain", routes.GetOntologyHandler, middleware.RequirePermission(middleware.PermOntologyView))
	apiRoutes.GET("/ontology/:domain/versions/:version", routes.GetOntologyVersionHandler, middleware.RequirePermission(middleware.PermOntologyView))
}
