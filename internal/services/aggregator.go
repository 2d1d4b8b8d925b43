package services

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/pkg/models"
)

// DefaultActionWeights are used for any weighted action missing from
// configuration.
var DefaultActionWeights = map[models.Action]float64{
	models.ActionClick:    1,
	models.ActionPurchase: 5,
}

// Aggregator turns interaction events into implicit ratings.
type Aggregator struct {
	source    InteractionSource
	weights   map[models.Action]float64
	synthetic bool
	logger    *logrus.Logger
}

// NewAggregator builds an aggregator. Only the keys of DefaultActionWeights
// can be weighted; other configured actions are ignored.
func NewAggregator(source InteractionSource, weights map[string]float64, syntheticFallback bool, logger *logrus.Logger) *Aggregator {
	resolved := make(map[models.Action]float64, len(DefaultActionWeights))
	for action, w := range DefaultActionWeights {
		resolved[action] = w
	}
	for name, w := range weights {
		action := models.Action(name)
		if _, ok := DefaultActionWeights[action]; !ok {
			logger.WithField("action", name).Warn("Ignoring weight for unknown action")
			continue
		}
		resolved[action] = w
	}

	return &Aggregator{
		source:    source,
		weights:   resolved,
		synthetic: syntheticFallback,
		logger:    logger,
	}
}

// BuildRatings returns one rating per (user, product) pair, sorted by user
// then product, restricted to products active in snap. synthetic reports
// whether the built-in interaction set was used.
func (a *Aggregator) BuildRatings(ctx context.Context, snap *CatalogSnapshot) (ratings []models.Rating, synthetic bool) {
	events, err := a.source.ListInteractionEvents(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Interaction source unavailable")
	}

	ratings = a.weigh(events, snap)
	if len(ratings) > 0 {
		return ratings, false
	}

	if !a.synthetic {
		a.logger.Info("No usable interaction events and synthetic fallback disabled")
		return nil, false
	}

	a.logger.WithField("events", len(events)).Warn("No usable interaction events, using synthetic interactions")
	return filterRatings(SyntheticRatings(), snap), true
}

func (a *Aggregator) weigh(events []models.InteractionEvent, snap *CatalogSnapshot) []models.Rating {
	type pair struct{ user, product int64 }
	sums := make(map[pair]float64)

	for _, e := range events {
		w := a.weights[e.Action]
		if w <= 0 || e.Count <= 0 {
			continue
		}
		if !snap.IsActive(e.ProductID) {
			continue
		}
		sums[pair{e.UserID, e.ProductID}] += w * float64(e.Count)
	}

	ratings := make([]models.Rating, 0, len(sums))
	for k, v := range sums {
		if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		ratings = append(ratings, models.Rating{UserID: k.user, ProductID: k.product, Value: v})
	}
	sortRatings(ratings)
	return ratings
}

func filterRatings(ratings []models.Rating, snap *CatalogSnapshot) []models.Rating {
	kept := ratings[:0]
	for _, r := range ratings {
		if snap.IsActive(r.ProductID) {
			kept = append(kept, r)
		}
	}
	sortRatings(kept)
	return kept
}

func sortRatings(ratings []models.Rating) {
	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].UserID != ratings[j].UserID {
			return ratings[i].UserID < ratings[j].UserID
		}
		return ratings[i].ProductID < ratings[j].ProductID
	})
}

// SyntheticRatings is the deterministic interaction set used to bootstrap a
// model when no real events exist: 20 ratings from 5 users over the 15
// sample products.
func SyntheticRatings() []models.Rating {
	users := []int64{1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 1, 2, 3, 4, 5, 1, 2, 3, 4, 5}
	products := []int64{1, 2, 3, 4, 1, 5, 2, 6, 3, 7, 8, 9, 10, 11, 12, 13, 14, 15, 1, 2}
	values := []float64{5, 4, 5, 3, 4, 5, 3, 4, 5, 3, 2, 1, 5, 4, 3, 5, 4, 3, 2, 1}

	ratings := make([]models.Rating, len(users))
	for i := range users {
		ratings[i] = models.Rating{UserID: users[i], ProductID: products[i], Value: values[i]}
	}
	return ratings
}
