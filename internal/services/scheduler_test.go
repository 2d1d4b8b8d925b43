package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/itemcf/internal/ml"
	"github.com/temcen/itemcf/pkg/models"
)

type failingStorage struct{ err error }

func (f failingStorage) Name() string                         { return "broken" }
func (f failingStorage) Write(context.Context, []byte) error  { return f.err }
func (f failingStorage) Read(context.Context) ([]byte, error) { return nil, f.err }

type schedulerFixture struct {
	scheduler *Scheduler
	catalog   *CatalogStore
	store     *ml.ModelStore
	file      *ml.FileStorage
	metrics   *Metrics
}

func newSchedulerFixture(t *testing.T, products *fakeProductSource, interactions *fakeInteractionSource, synthetic bool, extra ...ml.ModelStorage) *schedulerFixture {
	t.Helper()
	logger := testLogger()
	metrics := NewMetrics(prometheus.NewRegistry())

	file := ml.NewFileStorage(filepath.Join(t.TempDir(), "model.json"))
	store := ml.NewModelStore(logger, append([]ml.ModelStorage{file}, extra...)...)
	catalog := NewCatalogStore(products, metrics, logger)
	aggregator := NewAggregator(interactions, nil, synthetic, logger)

	scheduler := NewScheduler(catalog, aggregator, ml.NewTrainer(0, logger), store, time.Hour, time.Hour, metrics, logger)
	t.Cleanup(scheduler.Stop)

	return &schedulerFixture{
		scheduler: scheduler,
		catalog:   catalog,
		store:     store,
		file:      file,
		metrics:   metrics,
	}
}

func TestScheduler_Bootstrap_EmptySources(t *testing.T) {
	f := newSchedulerFixture(t, &fakeProductSource{}, &fakeInteractionSource{}, true)

	require.NoError(t, f.scheduler.Bootstrap(context.Background()))

	assert.True(t, f.catalog.Snapshot().Fallback)
	live := f.store.Live()
	require.NotNil(t, live)
	assert.Equal(t, 15, live.Matrix.Len())

	data, err := f.file.Read(context.Background())
	require.NoError(t, err)
	persisted, err := ml.DecodeModel(data)
	require.NoError(t, err)
	assert.Equal(t, live.ID, persisted.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.trainingCycles.WithLabelValues(string(CyclePublished))))
	assert.Equal(t, 15.0, testutil.ToFloat64(f.metrics.liveProducts))
}

func TestScheduler_Bootstrap_WarmStart(t *testing.T) {
	f := newSchedulerFixture(t, &fakeProductSource{err: errors.New("down")}, &fakeInteractionSource{}, false)

	// A previous run left a model on disk.
	previous := ml.NewModelStore(testLogger(), f.file)
	published, err := previous.Publish(context.Background(), modelOf(t, []int64{1, 2}, map[pair]float64{{1, 2}: 0.5}).Matrix)
	require.NoError(t, err)

	require.NoError(t, f.scheduler.Bootstrap(context.Background()))

	require.NotNil(t, f.store.Live())
	assert.Equal(t, published.ID, f.store.Live().ID)
}

func TestScheduler_RunTrainingCycle(t *testing.T) {
	products := &fakeProductSource{products: []models.Product{product(1, "a"), product(2, "a"), product(3, "b")}}
	interactions := &fakeInteractionSource{events: []models.InteractionEvent{
		{UserID: 1, ProductID: 1, Action: models.ActionClick, Count: 1},
		{UserID: 1, ProductID: 2, Action: models.ActionPurchase, Count: 1},
		{UserID: 2, ProductID: 2, Action: models.ActionClick, Count: 2},
		{UserID: 2, ProductID: 3, Action: models.ActionClick, Count: 1},
	}}
	f := newSchedulerFixture(t, products, interactions, true)
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	report, err := f.scheduler.RunTrainingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CyclePublished, report.Outcome)
	assert.Equal(t, 4, report.Ratings)
	assert.Equal(t, 3, report.Products)
	assert.False(t, report.Synthetic)
	require.NotNil(t, f.scheduler.LiveModel())
	assert.Equal(t, report.ModelVersion, f.scheduler.LiveModel().ID)
}

func TestScheduler_RunTrainingCycle_Skipped(t *testing.T) {
	products := &fakeProductSource{products: []models.Product{product(1, "a"), product(2, "a")}}
	interactions := &fakeInteractionSource{events: []models.InteractionEvent{
		{UserID: 1, ProductID: 1, Action: models.ActionClick, Count: 1},
		{UserID: 2, ProductID: 1, Action: models.ActionClick, Count: 3},
	}}
	f := newSchedulerFixture(t, products, interactions, true)
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	report, err := f.scheduler.RunTrainingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CycleSkipped, report.Outcome)
	assert.Contains(t, report.Reason, "at least 2 distinct products")
	assert.Nil(t, f.scheduler.LiveModel())
}

func TestScheduler_RunTrainingCycle_PartialPersistence(t *testing.T) {
	f := newSchedulerFixture(t, &fakeProductSource{}, &fakeInteractionSource{}, true, failingStorage{err: errors.New("redis down")})
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	report, err := f.scheduler.RunTrainingCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CyclePublishedPartial, report.Outcome)
	assert.NotNil(t, f.store.Live())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.persistenceFailures.WithLabelValues("broken")))
}

func TestScheduler_NoOverlappingCycles(t *testing.T) {
	interactions := &fakeInteractionSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newSchedulerFixture(t, &fakeProductSource{}, interactions, true)
	_, err := f.catalog.Refresh(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.scheduler.RunTrainingCycle(context.Background())
		done <- err
	}()
	<-interactions.entered

	_, err = f.scheduler.RunTrainingCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	_, err = f.scheduler.TriggerTrainingCycle()
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(interactions.release)
	require.NoError(t, <-done)
	assert.NotNil(t, f.store.Live())
}

func TestScheduler_TriggerTrainingCycle(t *testing.T) {
	f := newSchedulerFixture(t, &fakeProductSource{}, &fakeInteractionSource{}, true)
	_, err := f.scheduler.RefreshCatalog(context.Background())
	require.NoError(t, err)

	cycleID, err := f.scheduler.TriggerTrainingCycle()

	require.NoError(t, err)
	assert.NotEmpty(t, cycleID)
	assert.Eventually(t, func() bool { return f.store.Live() != nil }, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_PeriodicWorkers(t *testing.T) {
	logger := testLogger()
	products := &fakeProductSource{}
	catalog := NewCatalogStore(products, nil, logger)
	store := ml.NewModelStore(logger, ml.NewFileStorage(filepath.Join(t.TempDir(), "model.json")))
	scheduler := NewScheduler(
		catalog,
		NewAggregator(&fakeInteractionSource{}, nil, true, logger),
		ml.NewTrainer(0, logger),
		store,
		20*time.Millisecond, 10*time.Millisecond,
		nil, logger,
	)

	scheduler.Start()
	assert.Eventually(t, func() bool { return store.Live() != nil }, 5*time.Second, 10*time.Millisecond)
	scheduler.Stop()

	products.mu.Lock()
	defer products.mu.Unlock()
	assert.Positive(t, products.calls)
}
