package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/itemcf/internal/ml"
)

// ModelPublisher is the write side of the model store.
type ModelPublisher interface {
	ModelProvider
	Publish(ctx context.Context, matrix *ml.SimilarityMatrix) (*ml.ModelVersion, error)
	WarmStart(ctx context.Context) (string, error)
}

// CatalogRefresher is the write side of the catalog store.
type CatalogRefresher interface {
	CatalogProvider
	Refresh(ctx context.Context) (*CatalogSnapshot, error)
}

type CycleOutcome string

const (
	CyclePublished        CycleOutcome = "published"
	CyclePublishedPartial CycleOutcome = "published_partial"
	CycleSkipped          CycleOutcome = "skipped"
	CycleFailed           CycleOutcome = "failed"
)

// CycleReport describes one training cycle.
type CycleReport struct {
	CycleID      string        `json:"cycle_id"`
	Outcome      CycleOutcome  `json:"outcome"`
	ModelVersion string        `json:"model_version,omitempty"`
	Ratings      int           `json:"ratings"`
	Products     int           `json:"products"`
	Synthetic    bool          `json:"synthetic"`
	Reason       string        `json:"reason,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Scheduler drives catalog refreshes and model retraining on two cadences.
// Training cycles never overlap and, once started, always run to completion.
type Scheduler struct {
	catalog    CatalogRefresher
	aggregator *Aggregator
	trainer    *ml.Trainer
	store      ModelPublisher

	trainingInterval time.Duration
	catalogInterval  time.Duration

	training sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *Metrics
	logger  *logrus.Logger
}

func NewScheduler(
	catalog CatalogRefresher,
	aggregator *Aggregator,
	trainer *ml.Trainer,
	store ModelPublisher,
	trainingInterval, catalogInterval time.Duration,
	metrics *Metrics,
	logger *logrus.Logger,
) *Scheduler {
	if trainingInterval <= 0 {
		trainingInterval = 6 * time.Hour
	}
	if catalogInterval <= 0 {
		catalogInterval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		catalog:          catalog,
		aggregator:       aggregator,
		trainer:          trainer,
		store:            store,
		trainingInterval: trainingInterval,
		catalogInterval:  catalogInterval,
		ctx:              ctx,
		cancel:           cancel,
		metrics:          metrics,
		logger:           logger,
	}
}

// Bootstrap prepares the first servable state: the catalog is refreshed and
// any persisted model warm-started concurrently, then one training cycle
// runs.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if _, err := s.catalog.Refresh(gctx); err != nil {
			return fmt.Errorf("initial catalog refresh failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		source, err := s.store.WarmStart(gctx)
		if err != nil {
			s.logger.WithError(err).Info("No persisted model to warm start from")
			return nil
		}
		if live := s.store.Live(); live != nil && source != "" {
			s.metrics.SetLiveProducts(live.Matrix.Len())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	report, err := s.RunTrainingCycle(ctx)
	if err != nil {
		if s.store.Live() != nil {
			s.logger.WithError(err).Warn("Initial training failed, serving the warm-started model")
			return nil
		}
		return fmt.Errorf("initial training failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"cycle_id": report.CycleID,
		"outcome":  report.Outcome,
	}).Info("Bootstrap complete")
	return nil
}

// Start launches the periodic catalog refresh and training loops.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.catalogWorker()
	go s.trainingWorker()

	s.logger.WithFields(logrus.Fields{
		"training_interval": s.trainingInterval.String(),
		"catalog_interval":  s.catalogInterval.String(),
	}).Info("Retraining scheduler started")
}

// Stop ends the loops and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Retraining scheduler stopped")
}

func (s *Scheduler) catalogWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.catalogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.catalog.Refresh(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Warn("Scheduled catalog refresh skipped")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) trainingWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.trainingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunTrainingCycle(s.ctx); err != nil {
				s.logger.WithError(err).Warn("Scheduled training cycle did not publish")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// RefreshCatalog refreshes the catalog on demand.
func (s *Scheduler) RefreshCatalog(ctx context.Context) (*CatalogSnapshot, error) {
	return s.catalog.Refresh(ctx)
}

func (s *Scheduler) LiveModel() *ml.ModelVersion {
	return s.store.Live()
}

// TriggerTrainingCycle starts a cycle in the background and returns its ID,
// or ErrCycleInProgress when one is already running.
func (s *Scheduler) TriggerTrainingCycle() (string, error) {
	if !s.training.TryLock() {
		return "", ErrCycleInProgress
	}

	cycleID := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.training.Unlock()
		if _, err := s.runCycle(s.ctx, cycleID); err != nil {
			s.logger.WithError(err).WithField("cycle_id", cycleID).Warn("Triggered training cycle did not publish")
		}
	}()
	return cycleID, nil
}

// RunTrainingCycle runs one cycle synchronously. A skipped cycle is not an
// error; the report says why.
func (s *Scheduler) RunTrainingCycle(ctx context.Context) (*CycleReport, error) {
	if !s.training.TryLock() {
		s.logger.Info("Training cycle already running, skipping")
		return nil, ErrCycleInProgress
	}
	defer s.training.Unlock()

	return s.runCycle(ctx, uuid.NewString())
}

func (s *Scheduler) runCycle(ctx context.Context, cycleID string) (*CycleReport, error) {
	// An in-flight cycle is never cancelled.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	report := &CycleReport{CycleID: cycleID}
	log := s.logger.WithField("cycle_id", cycleID)
	log.Info("Training cycle started")

	defer func() {
		report.Duration = time.Since(start)
		s.metrics.RecordTrainingCycle(string(report.Outcome), report.Duration)
	}()

	snap := s.catalog.Snapshot()
	ratings, synthetic := s.aggregator.BuildRatings(ctx, snap)
	report.Ratings = len(ratings)
	report.Synthetic = synthetic

	matrix, err := s.trainer.Train(ratings)
	if errors.Is(err, ml.ErrTrainingSkipped) {
		report.Outcome = CycleSkipped
		report.Reason = err.Error()
		log.WithField("reason", err.Error()).Info("Training cycle skipped, keeping the live model")
		return report, nil
	}
	if err != nil {
		report.Outcome = CycleFailed
		report.Reason = err.Error()
		return report, fmt.Errorf("training failed: %w", err)
	}
	report.Products = matrix.Len()

	version, err := s.store.Publish(ctx, matrix)
	var persistErr *ml.PersistenceError
	switch {
	case errors.As(err, &persistErr):
		report.Outcome = CyclePublishedPartial
		report.Reason = persistErr.Error()
		for target := range persistErr.Failures {
			s.metrics.RecordPersistenceFailure(target)
		}
		log.WithError(err).Warn("Model published but not fully persisted")
	case err != nil:
		report.Outcome = CycleFailed
		report.Reason = err.Error()
		return report, fmt.Errorf("failed to publish model: %w", err)
	default:
		report.Outcome = CyclePublished
	}

	report.ModelVersion = version.ID
	s.metrics.SetLiveProducts(matrix.Len())

	log.WithFields(logrus.Fields{
		"model_version": version.ID,
		"products":      matrix.Len(),
		"ratings":       len(ratings),
		"synthetic":     synthetic,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Training cycle completed")

	return report, nil
}
