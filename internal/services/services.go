package services

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/config"
	"github.com/temcen/itemcf/internal/database"
	"github.com/temcen/itemcf/internal/messaging"
	"github.com/temcen/itemcf/internal/ml"
)

type eventStoreSink interface {
	EventStore
	EventSink
}

type Services struct {
	Health     *HealthService
	Metrics    *Metrics
	Catalog    *CatalogStore
	Models     *ml.ModelStore
	Scheduler  *Scheduler
	Ranking    *RankingEngine
	Assigner   *StrategyAssigner
	Tracker    *RecommendationTracker
	EventStore EventStore
	EventSink  EventSink
	MessageBus *messaging.MessageBus

	DefaultCount int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	metrics := NewMetrics(reg)

	// Sources
	pg := NewPostgresStore(db.PG, cfg.Sources.QueryTimeout, logger)
	products := NewGuardedProductSource(pg, cfg.Sources.Breaker, metrics, logger)
	interactions := NewGuardedInteractionSource(pg, cfg.Sources.Breaker, metrics, logger)

	var graph *GraphActivityStore
	if db.Neo4j != nil {
		graph = NewGraphActivityStore(db.Neo4j, cfg.Sources.QueryTimeout, logger)
	}

	catalog := NewCatalogStore(products, metrics, logger)

	var activity RecentActivitySource = pg
	switch cfg.Recommendation.RecentActivitySource {
	case "neo4j":
		if graph != nil {
			activity = graph
		} else {
			logger.Warn("Neo4j recent activity requested but Neo4j is unavailable, using Postgres")
		}
	case "simulated":
		activity = NewSimulatedActivitySource(catalog, NewActivityClockSource(cfg.Recommendation.RandomSeed, cfg.Recommendation.RandomBucket))
	}
	activity = NewGuardedActivitySource(activity, cfg.Sources.Breaker, metrics, logger)

	// Model lifecycle
	targets := []ml.ModelStorage{ml.NewFileStorage(cfg.Training.ModelPath)}
	if db.Redis != nil {
		targets = append(targets, ml.NewRedisModelCache(db.Redis, cfg.Training.CacheKey, cfg.Training.CacheTTL))
	}
	modelStore := ml.NewModelStore(logger, targets...)
	trainer := ml.NewTrainer(cfg.Training.MaxProducts, logger)
	aggregator := NewAggregator(interactions, cfg.Training.ActionWeights, cfg.Training.SyntheticFallback, logger)
	scheduler := NewScheduler(
		catalog, aggregator, trainer, modelStore,
		cfg.Training.Interval, cfg.Training.CatalogInterval,
		metrics, logger,
	)

	// Serving
	assigner := NewStrategyAssigner(cfg.Experiment, logger)

	var tracker *RecommendationTracker
	var recorder RecommendationRecorder
	if cfg.Recommendation.Tracking.Enabled && db.Redis != nil {
		tracker = NewRecommendationTracker(db.Redis, catalog, cfg.Recommendation.Tracking, metrics, logger)
		recorder = tracker
	}

	ranking := NewRankingEngine(
		catalog, modelStore, activity,
		NewClockSource(cfg.Recommendation.RandomSeed, cfg.Recommendation.RandomBucket),
		assigner, cfg.Recommendation.RecentActivityLimit, recorder,
		metrics, logger,
	)

	// Event tracking
	var store eventStoreSink = pg
	if graph != nil {
		store = NewMirroredEventStore(pg, graph, logger)
	}

	var sink EventSink = store
	var bus *messaging.MessageBus
	if cfg.Kafka.Enabled() {
		var err error
		bus, err = messaging.NewMessageBus(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		sink = bus
	}

	return &Services{
		Health:       NewHealthService(db, modelStore, catalog, reg, logger),
		Metrics:      metrics,
		Catalog:      catalog,
		Models:       modelStore,
		Scheduler:    scheduler,
		Ranking:      ranking,
		Assigner:     assigner,
		Tracker:      tracker,
		EventStore:   store,
		EventSink:    sink,
		MessageBus:   bus,
		DefaultCount: cfg.Recommendation.DefaultCount,
		logger:       logger,
	}, nil
}

// Start launches the background workers: retraining, quality tracking and,
// with Kafka configured, the event consumer.
func (s *Services) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.Scheduler.Start()
	if s.Tracker != nil {
		s.Tracker.Start()
	}

	if s.MessageBus != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.MessageBus.ConsumeEvents(ctx, s.EventStore.StoreEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Error("Event consumer stopped")
			}
		}()
	}
}

// Stop shuts the workers down and waits for them.
func (s *Services) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.Scheduler.Stop()
	if s.Tracker != nil {
		s.Tracker.Stop()
	}
	if s.MessageBus != nil {
		if err := s.MessageBus.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close message bus")
		}
	}
}
