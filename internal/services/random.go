package services

import (
	"context"
	"math/rand/v2"
	"time"
)

// RandSource hands out a fresh random stream per request. Streams are never
// shared between goroutines.
type RandSource interface {
	Rand(userID int64) *rand.Rand
}

// SeededSource derives the stream from a fixed seed and the user, so the same
// request always ranks the same way.
type SeededSource struct {
	Seed uint64
}

func (s SeededSource) Rand(userID int64) *rand.Rand {
	return rand.New(rand.NewPCG(s.Seed, uint64(userID)))
}

// activitySeedSalt separates the simulated activity stream from the ranking
// stream when both derive from the same configured seed.
const activitySeedSalt uint64 = 0x9e3779b97f4a7c15

// ClockSource rotates each user's stream once per time bucket, giving stable
// results within a bucket and fresh ones after it.
type ClockSource struct {
	seed   uint64
	bucket time.Duration
	now    func() time.Time
}

func NewClockSource(seed uint64, bucket time.Duration) *ClockSource {
	if bucket <= 0 {
		bucket = time.Hour
	}
	return &ClockSource{
		seed:   seed,
		bucket: bucket,
		now:    time.Now,
	}
}

// NewActivityClockSource is the clock source for simulated activity. It draws
// from a different stream than a ranking ClockSource built on the same seed.
func NewActivityClockSource(seed uint64, bucket time.Duration) *ClockSource {
	return NewClockSource(seed^activitySeedSalt, bucket)
}

func (c *ClockSource) Rand(userID int64) *rand.Rand {
	bucket := uint64(c.now().UnixNano() / int64(c.bucket))
	return rand.New(rand.NewPCG(c.seed^bucket, uint64(userID)))
}

// SimulatedActivitySource stands in for a real activity store in demos: each
// user "viewed" between 2 and 5 random active products, stable per time
// bucket.
type SimulatedActivitySource struct {
	catalog CatalogProvider
	rand    RandSource
}

func NewSimulatedActivitySource(catalog CatalogProvider, randSource RandSource) *SimulatedActivitySource {
	return &SimulatedActivitySource{
		catalog: catalog,
		rand:    randSource,
	}
}

func (s *SimulatedActivitySource) RecentActivity(_ context.Context, userID int64, limit int) ([]int64, error) {
	ids := s.catalog.Snapshot().ActiveIDs()
	if len(ids) == 0 {
		return nil, nil
	}

	rng := s.rand.Rand(userID)
	k := min(len(ids), 2+rng.IntN(4))
	if limit > 0 {
		k = min(k, limit)
	}
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids[:k], nil
}
