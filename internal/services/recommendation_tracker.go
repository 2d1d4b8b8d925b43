package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/config"
)

// TrackingStats are the quality signals computed for one served list.
type TrackingStats struct {
	// Repetition is the share of the list already shown to the user last
	// time; HasPrevious is false when there was no previous list.
	Repetition  float64
	HasPrevious bool
	// Coverage is the share of the active catalog ever recommended by the
	// strategy.
	Coverage float64
}

type trackedList struct {
	userID     int64
	strategy   string
	productIDs []int64
}

// RecommendationTracker records served lists in Redis and derives repetition
// and catalog coverage from them on a background worker.
type RecommendationTracker struct {
	redis      redis.Cmdable
	catalog    CatalogProvider
	historyTTL time.Duration
	opTimeout  time.Duration

	queue    chan trackedList
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics *Metrics
	logger  *logrus.Logger
}

func NewRecommendationTracker(client redis.Cmdable, catalog CatalogProvider, cfg config.TrackingConfig, metrics *Metrics, logger *logrus.Logger) *RecommendationTracker {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &RecommendationTracker{
		redis:      client,
		catalog:    catalog,
		historyTTL: cfg.HistoryTTL,
		opTimeout:  cfg.OpTimeout,
		queue:      make(chan trackedList, bufferSize),
		stopChan:   make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
}

func (t *RecommendationTracker) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop drains queued lists and stops the worker.
func (t *RecommendationTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()
}

// Track queues a served list. It never blocks; when the buffer is full the
// list is dropped.
func (t *RecommendationTracker) Track(userID int64, strategy string, productIDs []int64) {
	ids := make([]int64, len(productIDs))
	copy(ids, productIDs)

	select {
	case t.queue <- trackedList{userID: userID, strategy: strategy, productIDs: ids}:
	default:
		t.logger.WithField("user_id", userID).Debug("Recommendation tracking buffer full, dropping list")
	}
}

func (t *RecommendationTracker) worker() {
	defer t.wg.Done()

	for {
		select {
		case item := <-t.queue:
			t.handle(item)
		case <-t.stopChan:
			for {
				select {
				case item := <-t.queue:
					t.handle(item)
				default:
					return
				}
			}
		}
	}
}

func (t *RecommendationTracker) handle(item trackedList) {
	ctx := context.Background()
	if t.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opTimeout)
		defer cancel()
	}

	stats, err := t.Record(ctx, item.userID, item.strategy, item.productIDs)
	if err != nil {
		t.logger.WithError(err).WithField("user_id", item.userID).Warn("Failed to record recommendation quality")
		return
	}
	if stats.HasPrevious {
		t.metrics.SetRepetition(item.strategy, stats.Repetition)
	}
	t.metrics.SetCoverage(item.strategy, stats.Coverage)
}

// Record stores productIDs as the user's latest list and returns the
// resulting quality signals.
func (t *RecommendationTracker) Record(ctx context.Context, userID int64, strategy string, productIDs []int64) (TrackingStats, error) {
	var stats TrackingStats

	historyKey := fmt.Sprintf("last_recommendations:%d:%s", userID, strategy)
	previous, err := t.redis.Get(ctx, historyKey).Bytes()
	switch {
	case err == redis.Nil:
	case err != nil:
		return stats, fmt.Errorf("failed to read previous recommendations: %w", err)
	default:
		var prevIDs []int64
		if err := json.Unmarshal(previous, &prevIDs); err != nil {
			t.logger.WithError(err).WithField("key", historyKey).Warn("Discarding unreadable recommendation history")
		} else {
			stats.HasPrevious = true
			stats.Repetition = overlapRatio(productIDs, prevIDs)
		}
	}

	encoded, err := json.Marshal(productIDs)
	if err != nil {
		return stats, fmt.Errorf("failed to encode recommendations: %w", err)
	}
	if err := t.redis.Set(ctx, historyKey, encoded, t.historyTTL).Err(); err != nil {
		return stats, fmt.Errorf("failed to store recommendations: %w", err)
	}

	coverageKey := "all_recommended_products:" + strategy
	if len(productIDs) > 0 {
		members := make([]interface{}, len(productIDs))
		for i, id := range productIDs {
			members[i] = id
		}
		if err := t.redis.SAdd(ctx, coverageKey, members...).Err(); err != nil {
			return stats, fmt.Errorf("failed to update coverage set: %w", err)
		}
	}
	recommended, err := t.redis.SCard(ctx, coverageKey).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read coverage set: %w", err)
	}
	if active := t.catalog.Snapshot().Len(); active > 0 {
		stats.Coverage = min(float64(recommended)/float64(active), 1)
	}

	return stats, nil
}

func overlapRatio(current, previous []int64) float64 {
	if len(current) == 0 {
		return 0
	}
	prev := toSet(previous)
	overlap := 0
	for _, id := range current {
		if _, ok := prev[id]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(current))
}
