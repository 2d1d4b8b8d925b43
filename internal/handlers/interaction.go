package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/services"
	"github.com/temcen/itemcf/internal/validation"
	"github.com/temcen/itemcf/pkg/models"
)

// StrategyAssigner resolves the experiment group of a user.
type StrategyAssigner interface {
	AssignStrategy(userID int64) models.Strategy
}

// InteractionHandler accepts storefront events that later feed training.
type InteractionHandler struct {
	logger     *logrus.Logger
	sink       services.EventSink
	assigner   StrategyAssigner
	experiment string
	schemas    *validation.SchemaValidator
	validator  *validator.Validate
}

func NewInteractionHandler(logger *logrus.Logger, sink services.EventSink, assigner StrategyAssigner, experiment string, schemas *validation.SchemaValidator) *InteractionHandler {
	return &InteractionHandler{
		logger:     logger,
		sink:       sink,
		assigner:   assigner,
		experiment: experiment,
		schemas:    schemas,
		validator:  validator.New(),
	}
}

// Track serves POST /api/v1/events.
func (h *InteractionHandler) Track(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", "Unable to read request body"))
		return
	}

	if result := h.schemas.ValidateTrackEvent(body); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": result.FieldErrors(),
			},
		})
		return
	}

	var event models.TrackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", "Invalid request format"))
		return
	}
	if err := h.validator.Struct(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	if event.Group == "" && h.experiment != "" {
		event.ExperimentName = h.experiment
		event.Group = string(h.assigner.AssignStrategy(event.UserID))
	}

	if err := h.sink.PublishEvent(c.Request.Context(), &event); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    event.UserID,
			"product_id": event.ProductID,
		}).Error("Failed to accept event")
		c.JSON(http.StatusServiceUnavailable, errorResponse("EVENT_NOT_ACCEPTED", "Event could not be recorded"))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"experiment_name": event.ExperimentName,
		"group":           event.Group,
	})
}
