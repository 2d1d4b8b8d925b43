package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/itemcf/pkg/models"
)

// ErrTrainingSkipped is returned when the ratings cannot produce a model.
// It is an expected outcome: the previously published model stays live.
var ErrTrainingSkipped = errors.New("training skipped")

// Trainer computes item-item cosine similarity from implicit ratings.
type Trainer struct {
	maxProducts int
	logger      *logrus.Logger
}

// NewTrainer creates a trainer. maxProducts <= 0 disables the size guard.
func NewTrainer(maxProducts int, logger *logrus.Logger) *Trainer {
	return &Trainer{
		maxProducts: maxProducts,
		logger:      logger,
	}
}

// Train pivots ratings into a users x products matrix and returns the cosine
// similarity of its columns. Repeated (user, product) pairs are summed.
func (t *Trainer) Train(ratings []models.Rating) (*SimilarityMatrix, error) {
	start := time.Now()

	if len(ratings) == 0 {
		return nil, fmt.Errorf("%w: no ratings", ErrTrainingSkipped)
	}

	users, products := axes(ratings)
	if len(products) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct products, got %d", ErrTrainingSkipped, len(products))
	}
	if t.maxProducts > 0 && len(products) > t.maxProducts {
		return nil, fmt.Errorf("%w: %d products exceeds limit of %d", ErrTrainingSkipped, len(products), t.maxProducts)
	}

	userIndex := indexOf(users)
	productIndex := indexOf(products)

	ratingMatrix := mat.NewDense(len(users), len(products), nil)
	for _, r := range ratings {
		i, j := userIndex[r.UserID], productIndex[r.ProductID]
		ratingMatrix.Set(i, j, ratingMatrix.At(i, j)+r.Value)
	}

	// gram = Aᵀ·A, the pairwise dot products of product columns.
	var gram mat.SymDense
	gram.SymOuterK(1, ratingMatrix.T())

	n := len(products)
	norms := make([]float64, n)
	for i := range norms {
		norms[i] = math.Sqrt(gram.At(i, i))
	}

	scores := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scores.SetSym(i, j, cosine(gram.At(i, j), norms[i], norms[j], i == j))
		}
	}

	matrix, err := NewSimilarityMatrix(products, scores)
	if err != nil {
		return nil, fmt.Errorf("failed to build similarity matrix: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"users":       len(users),
		"products":    n,
		"ratings":     len(ratings),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Item similarity matrix trained")

	return matrix, nil
}

func cosine(dot, normA, normB float64, diagonal bool) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	if diagonal {
		return 1
	}
	v := dot / (normA * normB)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

func axes(ratings []models.Rating) (users, products []int64) {
	seenUsers := make(map[int64]struct{})
	seenProducts := make(map[int64]struct{})
	for _, r := range ratings {
		if _, ok := seenUsers[r.UserID]; !ok {
			seenUsers[r.UserID] = struct{}{}
			users = append(users, r.UserID)
		}
		if _, ok := seenProducts[r.ProductID]; !ok {
			seenProducts[r.ProductID] = struct{}{}
			products = append(products, r.ProductID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })
	return users, products
}

func indexOf(ids []int64) map[int64]int {
	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return index
}
