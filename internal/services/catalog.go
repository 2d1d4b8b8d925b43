package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/itemcf/pkg/models"
)

const uncategorized = "uncategorized"

// CatalogSnapshot is an immutable view of the active catalog.
type CatalogSnapshot struct {
	products    map[int64]models.Product
	activeIDs   []int64
	Fallback    bool
	RefreshedAt time.Time
}

// NewCatalogSnapshot keeps the active products, normalizes their categories
// and indexes them by ID. When an ID repeats, the first row wins.
func NewCatalogSnapshot(products []models.Product, fallback bool, refreshedAt time.Time) *CatalogSnapshot {
	snap := &CatalogSnapshot{
		products:    make(map[int64]models.Product, len(products)),
		Fallback:    fallback,
		RefreshedAt: refreshedAt,
	}
	for _, p := range products {
		if !p.IsActive() {
			continue
		}
		if _, dup := snap.products[p.ID]; dup {
			continue
		}
		p.Category = normalizeCategory(p.Category)
		snap.products[p.ID] = p
		snap.activeIDs = append(snap.activeIDs, p.ID)
	}
	sort.Slice(snap.activeIDs, func(i, j int) bool { return snap.activeIDs[i] < snap.activeIDs[j] })
	return snap
}

func normalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(norm.NFC.String(category)))
	if c == "" {
		return uncategorized
	}
	return c
}

func (s *CatalogSnapshot) Len() int {
	return len(s.activeIDs)
}

// ActiveIDs returns a copy of the active product IDs in ascending order.
func (s *CatalogSnapshot) ActiveIDs() []int64 {
	ids := make([]int64, len(s.activeIDs))
	copy(ids, s.activeIDs)
	return ids
}

func (s *CatalogSnapshot) Product(id int64) (models.Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

func (s *CatalogSnapshot) IsActive(id int64) bool {
	_, ok := s.products[id]
	return ok
}

// Category returns the normalized category of an active product, or "" when
// the product is not in the snapshot.
func (s *CatalogSnapshot) Category(id int64) string {
	return s.products[id].Category
}

// SampleCatalog is the built-in catalog served when the product source is
// unavailable or empty. Two of its rows are deliberately not active.
func SampleCatalog() []models.Product {
	return []models.Product{
		{ID: 1, Name: "Smartphone", Category: "electronics", Price: 25000, Status: models.ProductStatusActive},
		{ID: 2, Name: "Wireless Earbuds", Category: "electronics", Price: 3500, Status: models.ProductStatusActive},
		{ID: 3, Name: "Laptop", Category: "electronics", Price: 45000, Status: models.ProductStatusActive},
		{ID: 4, Name: "Smartwatch", Category: "wearables", Price: 8000, Status: models.ProductStatusActive},
		{ID: 5, Name: "Power Bank", Category: "accessories", Price: 1200, Status: models.ProductStatusActive},
		{ID: 6, Name: "Mechanical Keyboard", Category: "accessories", Price: 2800, Status: models.ProductStatusActive},
		{ID: 7, Name: "Ergonomic Mouse", Category: "accessories", Price: 1500, Status: models.ProductStatusActive},
		{ID: 8, Name: "HD Monitor", Category: "electronics", Price: 18000, Status: models.ProductStatusActive},
		{ID: 9, Name: "Game Console", Category: "gaming", Price: 15000, Status: models.ProductStatusActive},
		{ID: 10, Name: "VR Headset", Category: "gaming", Price: 30000, Status: models.ProductStatusActive},
		{ID: 11, Name: "Coffee Machine", Category: "home-appliances", Price: 5000, Status: models.ProductStatusActive},
		{ID: 12, Name: "Air Purifier", Category: "home-appliances", Price: 7000, Status: models.ProductStatusActive},
		{ID: 13, Name: "Running Shoes", Category: "apparel", Price: 2000, Status: models.ProductStatusActive},
		{ID: 14, Name: "Sports Bottle", Category: "sporting-goods", Price: 300, Status: models.ProductStatusActive},
		{ID: 15, Name: "Travel Backpack", Category: "travel", Price: 1800, Status: models.ProductStatusActive},
		{ID: 16, Name: "Discontinued Item A", Category: "misc", Price: 100, Status: models.ProductStatusInactive},
		{ID: 17, Name: "Sold Out Item B", Category: "misc", Price: 200, Status: models.ProductStatusSoldOut},
	}
}

// CatalogStore serves the current catalog snapshot and replaces it wholesale
// on refresh.
type CatalogStore struct {
	source   ProductSource
	snapshot atomic.Pointer[CatalogSnapshot]
	refresh  sync.Mutex
	metrics  *Metrics
	now      func() time.Time
	logger   *logrus.Logger
}

var emptyCatalog = NewCatalogSnapshot(nil, false, time.Time{})

func NewCatalogStore(source ProductSource, metrics *Metrics, logger *logrus.Logger) *CatalogStore {
	return &CatalogStore{
		source:  source,
		metrics: metrics,
		now:     time.Now,
		logger:  logger,
	}
}

// Snapshot returns the current snapshot. Before the first refresh it is
// empty.
func (c *CatalogStore) Snapshot() *CatalogSnapshot {
	if snap := c.snapshot.Load(); snap != nil {
		return snap
	}
	return emptyCatalog
}

// Refresh fetches the active products and installs them as the new snapshot.
// A failed or empty fetch installs the sample catalog instead. Overlapping
// refreshes are rejected with ErrCycleInProgress.
func (c *CatalogStore) Refresh(ctx context.Context) (*CatalogSnapshot, error) {
	if !c.refresh.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer c.refresh.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	products, err := c.source.ListActiveProducts(ctx)
	snap := NewCatalogSnapshot(products, false, c.now().UTC())

	switch {
	case err != nil:
		c.logger.WithError(err).Warn("Product source unavailable, using sample catalog")
		snap = NewCatalogSnapshot(SampleCatalog(), true, snap.RefreshedAt)
	case snap.Len() == 0:
		c.logger.Warn("Product source returned no active products, using sample catalog")
		snap = NewCatalogSnapshot(SampleCatalog(), true, snap.RefreshedAt)
	}

	c.snapshot.Store(snap)
	c.metrics.SetCatalog(snap.Len(), snap.Fallback)

	c.logger.WithFields(logrus.Fields{
		"active_products": snap.Len(),
		"fallback":        snap.Fallback,
	}).Info("Catalog refreshed")

	return snap, nil
}
