package models

import "time"

type Strategy string

const (
	StrategyV1 Strategy = "v1" // similarity-led
	StrategyV2 Strategy = "v2" // diversity-blended
)

const (
	DefaultRecommendationCount = 10
	MaxRecommendationCount     = 100
)

type RecommendationRequest struct {
	UserID   int64    `json:"user_id" validate:"gte=0"`
	Strategy Strategy `json:"strategy_version"`
	Count    int      `json:"count" validate:"min=1,max=100"`
}

type RecommendationResponse struct {
	UserID                int64    `json:"user_id"`
	RecommendedProductIDs []int64  `json:"recommended_product_ids"`
	Strategy              Strategy `json:"strategy_version"`
	ModelVersion          string   `json:"model_version,omitempty"`
	ColdStart             bool     `json:"cold_start"`
}

type ModelInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Products  int       `json:"products"`
}
