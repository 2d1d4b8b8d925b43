package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/services"
	"github.com/temcen/itemcf/pkg/models"
)

type RecommendationHandler struct {
	service      services.RecommendationServiceInterface
	defaultCount int
	validator    *validator.Validate
	logger       *logrus.Logger
}

func NewRecommendationHandler(service services.RecommendationServiceInterface, defaultCount int, logger *logrus.Logger) *RecommendationHandler {
	if defaultCount <= 0 {
		defaultCount = models.DefaultRecommendationCount
	}
	return &RecommendationHandler{
		service:      service,
		defaultCount: defaultCount,
		validator:    validator.New(),
		logger:       logger,
	}
}

// Get serves GET /api/v1/recommendations/:userId?strategy_version=&count=
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID < 0 {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_USER_ID", "User ID must be a non-negative integer"))
		return
	}

	count := h.defaultCount
	if countStr := c.Query("count"); countStr != "" {
		count, err = strconv.Atoi(countStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("INVALID_COUNT", "Count must be an integer"))
			return
		}
	}

	req := models.RecommendationRequest{
		UserID:   userID,
		Strategy: models.Strategy(c.Query("strategy_version")),
		Count:    count,
	}
	if err := h.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_COUNT", "Count must be between 1 and 100"))
		return
	}

	result, err := h.service.Recommend(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, errorResponse("VALIDATION_FAILED", err.Error()))
			return
		}
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to generate recommendations")
		c.JSON(http.StatusInternalServerError, errorResponse("RECOMMENDATION_GENERATION_FAILED", "Failed to generate recommendations"))
		return
	}

	c.JSON(http.StatusOK, models.RecommendationResponse{
		UserID:                userID,
		RecommendedProductIDs: result.ProductIDs,
		Strategy:              result.Strategy,
		ModelVersion:          result.ModelVersion,
		ColdStart:             result.ColdStart,
	})
}
