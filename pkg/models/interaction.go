package models

import "time"

type Action string

const (
	ActionClick      Action = "click"
	ActionPurchase   Action = "purchase"
	ActionImpression Action = "impression"
)

// InteractionEvent is an aggregated row of the storefront event log:
// how many times a user performed an action on a product.
type InteractionEvent struct {
	UserID    int64  `json:"user_id"`
	ProductID int64  `json:"product_id"`
	Action    Action `json:"action"`
	Count     int    `json:"count"`
}

// Rating is the weighted implicit-feedback score of a user for a product.
type Rating struct {
	UserID    int64   `json:"user_id"`
	ProductID int64   `json:"product_id"`
	Value     float64 `json:"rating"`
}

// TrackEvent is a single storefront interaction reported by a client.
type TrackEvent struct {
	UserID         int64                  `json:"user_id" validate:"gte=0"`
	ProductID      int64                  `json:"product_id" validate:"gt=0"`
	Action         Action                 `json:"action" validate:"required,oneof=click purchase impression"`
	ExperimentName string                 `json:"experiment_name,omitempty" validate:"omitempty,max=128"`
	Group          string                 `json:"group,omitempty" validate:"omitempty,max=64"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}
