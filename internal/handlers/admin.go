package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/services"
	"github.com/temcen/itemcf/pkg/models"
)

// AdminHandler exposes the model and training controls.
type AdminHandler struct {
	logger     *logrus.Logger
	controller services.TrainingControllerInterface
}

func NewAdminHandler(logger *logrus.Logger, controller services.TrainingControllerInterface) *AdminHandler {
	return &AdminHandler{
		logger:     logger,
		controller: controller,
	}
}

// Model serves GET /api/v1/admin/model.
func (h *AdminHandler) Model(c *gin.Context) {
	live := h.controller.LiveModel()
	if live == nil {
		c.JSON(http.StatusNotFound, errorResponse("MODEL_NOT_READY", "No model has been published yet"))
		return
	}

	c.JSON(http.StatusOK, models.ModelInfo{
		Version:   live.ID,
		CreatedAt: live.CreatedAt,
		Products:  live.Matrix.Len(),
	})
}

// Retrain serves POST /api/v1/admin/retrain.
func (h *AdminHandler) Retrain(c *gin.Context) {
	cycleID, err := h.controller.TriggerTrainingCycle()
	if errors.Is(err, services.ErrCycleInProgress) {
		c.JSON(http.StatusConflict, errorResponse("CYCLE_IN_PROGRESS", "A training cycle is already running"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to trigger training cycle")
		c.JSON(http.StatusInternalServerError, errorResponse("RETRAIN_FAILED", "Failed to start training"))
		return
	}

	h.logger.WithField("cycle_id", cycleID).Info("Training cycle triggered")
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "started",
		"cycle_id": cycleID,
	})
}

// RefreshCatalog serves POST /api/v1/admin/catalog/refresh.
func (h *AdminHandler) RefreshCatalog(c *gin.Context) {
	snap, err := h.controller.RefreshCatalog(c.Request.Context())
	if errors.Is(err, services.ErrCycleInProgress) {
		c.JSON(http.StatusConflict, errorResponse("CYCLE_IN_PROGRESS", "A catalog refresh is already running"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to refresh catalog")
		c.JSON(http.StatusInternalServerError, errorResponse("CATALOG_REFRESH_FAILED", "Failed to refresh catalog"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active_products": snap.Len(),
		"fallback":        snap.Fallback,
		"refreshed_at":    snap.RefreshedAt,
	})
}
