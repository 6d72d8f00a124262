package middleware

import (
	"github.com/OFFIS-RIT/agentkg/internal/queue"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

type App struct {
	Queue   queue.Publisher
	Schemas ontology.SchemaStore

	// Keyfunc verifies bearer JWTs; nil disables JWT auth.
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app, nil})
		}
	}
}
