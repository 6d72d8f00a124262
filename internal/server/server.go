package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/queue"
	mid "github.com/OFFIS-RIT/agentkg/internal/server/middleware"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
	pgstore "github.com/OFFIS-RIT/agentkg/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance with all routes bound to app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e)
	return e
}

// Init wires the server from the environment and serves until SIGINT or
// SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &mid.App{MasterAPIKey: util.GetEnv("MASTER_API_KEY")}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("[Server] Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	}
	if app.Keyfunc == nil && app.MasterAPIKey == "" {
		logger.Warn("[Server] Neither AUTH_URL nor MASTER_API_KEY is set, every API request will be rejected")
	}

	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		if err := pgstore.Migrate(dbURL); err != nil {
			logger.Fatal("[Server] Failed to migrate database", "err", err)
		}
		pool, err := pgstore.NewPool(ctx, dbURL)
		if err != nil {
			logger.Fatal("[Server] Failed to connect to database", "err", err)
		}
		defer pool.Close()
		app.Schemas = pgstore.NewOntologyStore(pool)
	} else {
		app.Schemas = ontology.NewFileStore(util.GetEnvString("ONTOLOGY_PATH", "ontology"))
	}

	conn := queue.Init(ctx)
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("[Server] Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.BatchQueue); err != nil {
		logger.Fatal("[Server] Failed to set up queues", "err", err)
	}
	app.Queue = queue.ChannelPublisher{Ch: ch}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("[Server] Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("[Server] Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] Failed to shutdown server", "err", err)
	}
}
