package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/agentkg/internal/server/middleware"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"

	"github.com/labstack/echo/v4"
)

func GetOntologyHandler(c echo.Context) error {
	type getOntologyParams struct {
		Domain string `param:"domain" validate:"required"`
	}

	params := new(getOntologyParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	schemas := c.(*middleware.AppContext).App.Schemas
	s, err := schemas.Latest(c.Request().Context(), params.Domain)
	if err != nil {
		logger.Error("[Server] Failed to load ontology", "domain", params.Domain, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if s == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No ontology for domain"})
	}
	return c.JSON(http.StatusOK, s)
}

func GetOntologyVersionHandler(c echo.Context) error {
	type getOntologyVersionParams struct {
		Domain  string `param:"domain" validate:"required"`
		Version int    `param:"version" validate:"required,min=1"`
	}

	params := new(getOntologyVersionParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	schemas := c.(*middleware.AppContext).App.Schemas
	s, err := schemas.Version(c.Request().Context(), params.Domain, params.Version)
	if errors.Is(err, ontology.ErrVersionNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Ontology version not found"})
	}
	if err != nil {
		logger.Error("[Server] Failed to load ontology version", "domain", params.Domain, "version", params.Version, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, s)
}
