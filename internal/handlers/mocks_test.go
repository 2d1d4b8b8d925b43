package handlers

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/itemcf/internal/ml"
	"github.com/temcen/itemcf/internal/services"
	"github.com/temcen/itemcf/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type MockRecommendationService struct {
	mock.Mock
}

func (m *MockRecommendationService) Recommend(ctx context.Context, req models.RecommendationRequest) (*services.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Result), args.Error(1)
}

func (m *MockRecommendationService) AssignStrategy(userID int64) models.Strategy {
	args := m.Called(userID)
	return args.Get(0).(models.Strategy)
}

type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) PublishEvent(ctx context.Context, event *models.TrackEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockTrainingController struct {
	mock.Mock
}

func (m *MockTrainingController) TriggerTrainingCycle() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockTrainingController) RefreshCatalog(ctx context.Context) (*services.CatalogSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CatalogSnapshot), args.Error(1)
}

func (m *MockTrainingController) LiveModel() *ml.ModelVersion {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*ml.ModelVersion)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) CheckHealth(ctx context.Context) *services.HealthStatus {
	args := m.Called(ctx)
	return args.Get(0).(*services.HealthStatus)
}
