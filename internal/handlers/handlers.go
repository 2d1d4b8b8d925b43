package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/services"
	"github.com/temcen/itemcf/internal/validation"
)

type Handlers struct {
	Health         *HealthHandler
	Interaction    *InteractionHandler
	Recommendation *RecommendationHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, svc *services.Services, schemas *validation.SchemaValidator) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, svc.Health),
		Interaction:    NewInteractionHandler(logger, svc.EventSink, svc.Ranking, svc.Assigner.Experiment(), schemas),
		Recommendation: NewRecommendationHandler(svc.Ranking, svc.DefaultCount, logger),
		Admin:          NewAdminHandler(logger, svc.Scheduler),
	}
}

func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
