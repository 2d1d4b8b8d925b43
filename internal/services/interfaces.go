package services

import (
	"context"

	"github.com/temcen/itemcf/internal/ml"
	"github.com/temcen/itemcf/pkg/models"
)

// ProductSource lists the products currently marked active upstream.
type ProductSource interface {
	ListActiveProducts(ctx context.Context) ([]models.Product, error)
}

// InteractionSource lists aggregated interaction events for training.
type InteractionSource interface {
	ListInteractionEvents(ctx context.Context) ([]models.InteractionEvent, error)
}

// RecentActivitySource returns the products a user interacted with most
// recently, newest first.
type RecentActivitySource interface {
	RecentActivity(ctx context.Context, userID int64, limit int) ([]int64, error)
}

// EventStore persists tracked storefront events.
type EventStore interface {
	StoreEvent(ctx context.Context, event *models.TrackEvent) error
}

// EventSink accepts tracked events from the HTTP layer. It is either the
// message bus or an EventStore used directly.
type EventSink interface {
	PublishEvent(ctx context.Context, event *models.TrackEvent) error
}

// ModelProvider exposes the live similarity model to readers.
type ModelProvider interface {
	Live() *ml.ModelVersion
}

// CatalogProvider exposes the current catalog snapshot to readers.
type CatalogProvider interface {
	Snapshot() *CatalogSnapshot
}

// RecommendationServiceInterface is what the HTTP layer needs from ranking.
type RecommendationServiceInterface interface {
	Recommend(ctx context.Context, req models.RecommendationRequest) (*Result, error)
	AssignStrategy(userID int64) models.Strategy
}

// TrainingControllerInterface is what the admin endpoints need from the
// scheduler.
type TrainingControllerInterface interface {
	TriggerTrainingCycle() (string, error)
	RefreshCatalog(ctx context.Context) (*CatalogSnapshot, error)
	LiveModel() *ml.ModelVersion
}
