package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/itemcf/internal/ml"
	"github.com/temcen/itemcf/pkg/models"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeProductSource struct {
	mu       sync.Mutex
	products []models.Product
	err      error
	calls    int
}

func (f *fakeProductSource) ListActiveProducts(context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.products, f.err
}

type fakeInteractionSource struct {
	events []models.InteractionEvent
	err    error

	// When set, calls signal entered and wait for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeInteractionSource) ListInteractionEvents(context.Context) ([]models.InteractionEvent, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.events, f.err
}

type fakeActivitySource struct {
	ids []int64
	err error
}

func (f *fakeActivitySource) RecentActivity(context.Context, int64, int) ([]int64, error) {
	return f.ids, f.err
}

type staticCatalog struct {
	snap *CatalogSnapshot
}

func (s staticCatalog) Snapshot() *CatalogSnapshot {
	return s.snap
}

type staticModels struct {
	live *ml.ModelVersion
}

func (s staticModels) Live() *ml.ModelVersion {
	return s.live
}

func product(id int64, category string) models.Product {
	return models.Product{ID: id, Name: "product", Category: category, Status: models.ProductStatusActive}
}

func snapshotOf(products ...models.Product) *CatalogSnapshot {
	return NewCatalogSnapshot(products, false, time.Now())
}

type pair struct{ a, b int64 }

// modelOf builds a live model over products with a unit diagonal and the
// given pair scores; unspecified pairs are 0.
func modelOf(t *testing.T, products []int64, scores map[pair]float64) *ml.ModelVersion {
	t.Helper()
	n := len(products)
	index := make(map[int64]int, n)
	for i, id := range products {
		index[id] = i
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1)
	}
	for p, v := range scores {
		sym.SetSym(index[p.a], index[p.b], v)
	}
	matrix, err := ml.NewSimilarityMatrix(products, sym)
	require.NoError(t, err)
	return &ml.ModelVersion{ID: "test-model", Matrix: matrix, CreatedAt: time.Now()}
}
