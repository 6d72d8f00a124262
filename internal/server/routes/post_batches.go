package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/agentkg/internal/queue"
	"github.com/OFFIS-RIT/agentkg/internal/server/middleware"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// SubmitBatchHandler queues a batch of documents for extraction.
func SubmitBatchHandler(c echo.Context) error {
	type submitBatchBody struct {
		Domain    string                `json:"domain" validate:"required"`
		Documents []queue.BatchDocument `json:"documents" validate:"required,min=1,dive"`
	}

	type submitBatchResponse struct {
		Message string `json:"message"`
		BatchID string `json:"batch_id,omitempty"`
	}

	data := new(submitBatchBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, submitBatchResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, submitBatchResponse{Message: "Invalid request body"})
	}

	batchID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, submitBatchResponse{Message: "Internal server error"})
	}
	msg := queue.BatchMsg{BatchID: batchID, Domain: util.CollapseWhitespace(data.Domain), Documents: data.Documents}
	if err := msg.Check(); err != nil {
		return c.JSON(http.StatusBadRequest, submitBatchResponse{Message: err.Error()})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, submitBatchResponse{Message: "Internal server error"})
	}
	app := c.(*middleware.AppContext).App
	if err := app.Queue.PublishFIFO(c.Request().Context(), queue.BatchQueue, body); err != nil {
		logger.Error("[Server] Failed to queue batch", "batch_id", batchID, "err", err)
		return c.JSON(http.StatusInternalServerError, submitBatchResponse{Message: "Failed to queue batch"})
	}

	logger.Info("[Server] Batch queued", "batch_id", batchID, "domain", msg.Domain, "documents", len(data.Documents))
	return c.JSON(http.StatusAccepted, submitBatchResponse{Message: "Batch queued", BatchID: batchID})
}
