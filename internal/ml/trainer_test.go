package ml

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/itemcf/pkg/models"
)

func newTestTrainer(maxProducts int) *Trainer {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewTrainer(maxProducts, logger)
}

func TestTrainer_CosineSimilarity(t *testing.T) {
	trainer := newTestTrainer(0)

	// product 10 = (1, 1), product 20 = (1, 0), product 30 = (0, 1)
	ratings := []models.Rating{
		{UserID: 1, ProductID: 10, Value: 1},
		{UserID: 1, ProductID: 20, Value: 1},
		{UserID: 2, ProductID: 10, Value: 1},
		{UserID: 2, ProductID: 30, Value: 1},
	}

	m, err := trainer.Train(ratings)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, m.Products())

	tests := []struct {
		a, b     int64
		expected float64
	}{
		{10, 10, 1},
		{20, 20, 1},
		{10, 20, 1 / math.Sqrt2},
		{10, 30, 1 / math.Sqrt2},
		{20, 30, 0},
	}
	for _, tt := range tests {
		got, ok := m.Similarity(tt.a, tt.b)
		require.True(t, ok)
		assert.InDelta(t, tt.expected, got, 1e-9, "similarity(%d, %d)", tt.a, tt.b)

		mirrored, _ := m.Similarity(tt.b, tt.a)
		assert.Equal(t, got, mirrored, "matrix must be symmetric")
	}
}

func TestTrainer_WeightedRatings(t *testing.T) {
	trainer := newTestTrainer(0)

	// product 1 = (5, 1), product 2 = (1, 5)
	ratings := []models.Rating{
		{UserID: 1, ProductID: 1, Value: 2},
		{UserID: 1, ProductID: 1, Value: 3}, // summed with the row above
		{UserID: 1, ProductID: 2, Value: 1},
		{UserID: 2, ProductID: 1, Value: 1},
		{UserID: 2, ProductID: 2, Value: 5},
	}

	m, err := trainer.Train(ratings)
	require.NoError(t, err)

	got, _ := m.Similarity(1, 2)
	assert.InDelta(t, 10.0/26.0, got, 1e-9)
}

func TestTrainer_SingleUser(t *testing.T) {
	trainer := newTestTrainer(0)

	m, err := trainer.Train([]models.Rating{
		{UserID: 7, ProductID: 1, Value: 5},
		{UserID: 7, ProductID: 2, Value: 1},
	})
	require.NoError(t, err)

	got, _ := m.Similarity(1, 2)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestTrainer_Skips(t *testing.T) {
	tests := []struct {
		name        string
		maxProducts int
		ratings     []models.Rating
		reason      string
	}{
		{
			name:    "no ratings",
			ratings: nil,
			reason:  "no ratings",
		},
		{
			name: "single product column",
			ratings: []models.Rating{
				{UserID: 1, ProductID: 5, Value: 1},
				{UserID: 2, ProductID: 5, Value: 5},
				{UserID: 3, ProductID: 5, Value: 2},
			},
			reason: "at least 2 distinct products",
		},
		{
			name:        "too many products",
			maxProducts: 2,
			ratings: []models.Rating{
				{UserID: 1, ProductID: 1, Value: 1},
				{UserID: 1, ProductID: 2, Value: 1},
				{UserID: 1, ProductID: 3, Value: 1},
			},
			reason: "exceeds limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := newTestTrainer(tt.maxProducts).Train(tt.ratings)
			assert.Nil(t, m)
			require.ErrorIs(t, err, ErrTrainingSkipped)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestTrainer_ScoresWithinRange(t *testing.T) {
	trainer := newTestTrainer(0)

	var ratings []models.Rating
	for u := int64(1); u <= 6; u++ {
		for p := int64(1); p <= 5; p++ {
			if (u+p)%3 == 0 {
				continue
			}
			ratings = append(ratings, models.Rating{UserID: u, ProductID: p, Value: float64(u*p%7 + 1)})
		}
	}

	m, err := trainer.Train(ratings)
	require.NoError(t, err)

	for _, a := range m.Products() {
		for _, b := range m.Products() {
			s, _ := m.Similarity(a, b)
			assert.GreaterOrEqual(t, s, -1.0)
			assert.LessOrEqual(t, s, 1.0)
		}
		diag, _ := m.Similarity(a, a)
		assert.Equal(t, 1.0, diag)
	}
}
