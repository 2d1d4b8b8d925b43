package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/ml"
	"github.com/temcen/itemcf/pkg/models"
)

const fallbackStrategyLabel = "fallback"

// Result is a ranked recommendation list.
type Result struct {
	ProductIDs   []int64
	Strategy     models.Strategy
	ColdStart    bool
	ModelVersion string
}

// RecommendationRecorder receives every served list, off the request path.
type RecommendationRecorder interface {
	Track(userID int64, strategy string, productIDs []int64)
}

// RankingEngine turns a user's recent activity and the live similarity model
// into a ranked list of active products.
type RankingEngine struct {
	catalog       CatalogProvider
	models        ModelProvider
	activity      RecentActivitySource
	rand          RandSource
	assigner      *StrategyAssigner
	activityLimit int
	recorder      RecommendationRecorder
	metrics       *Metrics
	logger        *logrus.Logger
}

func NewRankingEngine(
	catalog CatalogProvider,
	modelStore ModelProvider,
	activity RecentActivitySource,
	randSource RandSource,
	assigner *StrategyAssigner,
	activityLimit int,
	recorder RecommendationRecorder,
	metrics *Metrics,
	logger *logrus.Logger,
) *RankingEngine {
	return &RankingEngine{
		catalog:       catalog,
		models:        modelStore,
		activity:      activity,
		rand:          randSource,
		assigner:      assigner,
		activityLimit: activityLimit,
		recorder:      recorder,
		metrics:       metrics,
		logger:        logger,
	}
}

// AssignStrategy picks the strategy for a request that did not name one.
func (e *RankingEngine) AssignStrategy(userID int64) models.Strategy {
	if e.assigner == nil {
		return models.StrategyV1
	}
	return e.assigner.Assign(userID)
}

// Recommend ranks up to req.Count active products for req.UserID. An empty
// strategy is resolved by the assigner; an unrecognized one ranks a random
// sample of the active catalog.
func (e *RankingEngine) Recommend(ctx context.Context, req models.RecommendationRequest) (*Result, error) {
	if req.UserID < 0 {
		return nil, fmt.Errorf("%w: user id must be non-negative, got %d", ErrInvalidRequest, req.UserID)
	}
	if req.Count < 1 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRequest, req.Count)
	}
	req.Count = min(req.Count, models.MaxRecommendationCount)
	if req.Strategy == "" {
		req.Strategy = e.AssignStrategy(req.UserID)
	}

	start := time.Now()
	label := strategyLabel(req.Strategy)
	snap := e.catalog.Snapshot()
	live := e.models.Live()
	activity := e.recentActivity(ctx, req.UserID)

	result, err := rank(req, snap, live, activity, e.rand.Rand(req.UserID))
	if err != nil {
		e.metrics.RecordRecommendationFailure(label)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":  req.UserID,
			"strategy": req.Strategy,
		}).Error("Ranking failed")
		return nil, err
	}

	categories := make([]string, len(result.ProductIDs))
	for i, id := range result.ProductIDs {
		categories[i] = snap.Category(id)
	}
	e.metrics.ObserveRecommendation(label, result.ProductIDs, categories, result.ColdStart, time.Since(start))
	if e.recorder != nil {
		e.recorder.Track(req.UserID, label, result.ProductIDs)
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"strategy":   req.Strategy,
		"activity":   len(activity),
		"returned":   len(result.ProductIDs),
		"cold_start": result.ColdStart,
	}).Debug("Recommendations generated")

	return result, nil
}

// recentActivity returns the user's recent products, de-duplicated, newest
// first. A failing source degrades to no activity.
func (e *RankingEngine) recentActivity(ctx context.Context, userID int64) []int64 {
	if e.activity == nil {
		return nil
	}
	ids, err := e.activity.RecentActivity(ctx, userID, e.activityLimit)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("Recent activity unavailable, ranking without it")
		return nil
	}
	return uniqueIDs(ids)
}

func strategyLabel(s models.Strategy) string {
	switch s {
	case models.StrategyV1, models.StrategyV2:
		return string(s)
	default:
		return fallbackStrategyLabel
	}
}

func rank(req models.RecommendationRequest, snap *CatalogSnapshot, live *ml.ModelVersion, activity []int64, rng *rand.Rand) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrRankingFailed, r)
		}
	}()

	result = &Result{Strategy: req.Strategy}
	if live != nil {
		result.ModelVersion = live.ID
	}

	viewed := toSet(activity)
	var seeds []int64
	for _, id := range activity {
		if snap.IsActive(id) {
			seeds = append(seeds, id)
		}
	}

	switch req.Strategy {
	case models.StrategyV1:
		candidates, covered := similarityCandidates(live, seeds, viewed, snap, req.Count)
		result.ProductIDs = backfill(candidates, viewed, snap, rng, req.Count)
		result.ColdStart = !covered

	case models.StrategyV2:
		candidates, covered := similarityCandidates(live, seeds, viewed, snap, 2*req.Count)
		half := req.Count / 2

		diverse := diversePicks(candidates, viewed, snap, rng, half)
		merged := make([]int64, 0, half+len(diverse))
		merged = append(merged, candidates[:min(half, len(candidates))]...)
		merged = uniqueIDs(append(merged, diverse...))
		rng.Shuffle(len(merged), func(i, j int) { merged[i], merged[j] = merged[j], merged[i] })

		result.ProductIDs = backfill(merged, viewed, snap, rng, req.Count)
		result.ColdStart = !covered

	default:
		ids := shuffledActive(snap, rng)
		result.ProductIDs = ids[:min(req.Count, len(ids))]
		result.ColdStart = true
	}

	if result.ProductIDs == nil {
		result.ProductIDs = []int64{}
	}
	return result, nil
}

// similarityCandidates sums the similarity of every model product to the
// seeds and returns up to limit active, unviewed products by descending
// score. covered is false when no seed is known to the model.
func similarityCandidates(live *ml.ModelVersion, seeds []int64, viewed map[int64]struct{}, snap *CatalogSnapshot, limit int) ([]int64, bool) {
	if live == nil || len(seeds) == 0 {
		return nil, false
	}

	scores, covered := live.Matrix.SumSimilarities(seeds)
	if covered == 0 {
		return nil, false
	}
	ml.RankBySimilarity(scores)

	candidates := make([]int64, 0, limit)
	for _, s := range scores {
		if len(candidates) >= limit {
			break
		}
		if _, seen := viewed[s.ProductID]; seen {
			continue
		}
		if !snap.IsActive(s.ProductID) {
			continue
		}
		candidates = append(candidates, s.ProductID)
	}
	return candidates, true
}

// diversePicks walks the shuffled catalog and takes at most one product per
// category, skipping candidates and viewed products, until limit picks.
func diversePicks(candidates []int64, viewed map[int64]struct{}, snap *CatalogSnapshot, rng *rand.Rand, limit int) []int64 {
	taken := toSet(candidates)
	categories := make(map[string]struct{})

	var picks []int64
	for _, id := range shuffledActive(snap, rng) {
		if len(picks) >= limit {
			break
		}
		if _, ok := viewed[id]; ok {
			continue
		}
		if _, ok := taken[id]; ok {
			continue
		}
		category := snap.Category(id)
		if _, ok := categories[category]; ok {
			continue
		}
		categories[category] = struct{}{}
		picks = append(picks, id)
	}
	return picks
}

// backfill tops selected up to count with a random sample of active products
// that are neither selected nor viewed.
func backfill(selected []int64, viewed map[int64]struct{}, snap *CatalogSnapshot, rng *rand.Rand, count int) []int64 {
	if len(selected) >= count {
		return selected[:count]
	}

	chosen := toSet(selected)
	var pool []int64
	for _, id := range snap.activeIDs {
		if _, ok := chosen[id]; ok {
			continue
		}
		if _, ok := viewed[id]; ok {
			continue
		}
		pool = append(pool, id)
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	need := count - len(selected)
	return append(selected, pool[:min(need, len(pool))]...)
}

func shuffledActive(snap *CatalogSnapshot, rng *rand.Rand) []int64 {
	ids := snap.ActiveIDs()
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// uniqueIDs drops repeated IDs, keeping first occurrences in order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
