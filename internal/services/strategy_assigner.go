package services

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/config"
	"github.com/temcen/itemcf/pkg/models"
)

type strategyGroup struct {
	strategy models.Strategy
	weight   int
}

// StrategyAssigner splits users between strategies by a salted hash of their
// ID, so a user always lands in the same group.
type StrategyAssigner struct {
	enabled     bool
	experiment  string
	salt        string
	defaultName models.Strategy
	groups      []strategyGroup
	total       int
}

func NewStrategyAssigner(cfg config.ExperimentConfig, logger *logrus.Logger) *StrategyAssigner {
	a := &StrategyAssigner{
		enabled:     cfg.Enabled,
		experiment:  cfg.Name,
		salt:        cfg.Salt,
		defaultName: models.Strategy(cfg.DefaultStrategy),
	}
	if a.defaultName == "" {
		a.defaultName = models.StrategyV1
	}

	for name, weight := range cfg.Groups {
		if weight <= 0 {
			logger.WithField("group", name).Warn("Ignoring experiment group with non-positive weight")
			continue
		}
		a.groups = append(a.groups, strategyGroup{strategy: models.Strategy(name), weight: weight})
		a.total += weight
	}
	// Map iteration order is random; bucket boundaries must not be.
	sort.Slice(a.groups, func(i, j int) bool { return a.groups[i].strategy < a.groups[j].strategy })

	if a.enabled && a.total == 0 {
		logger.Warn("Experiment enabled without groups, assigning the default strategy")
		a.enabled = false
	}
	return a
}

// Experiment returns the experiment name events should be attributed to, or
// "" when assignment is disabled.
func (a *StrategyAssigner) Experiment() string {
	if !a.enabled {
		return ""
	}
	return a.experiment
}

func (a *StrategyAssigner) Assign(userID int64) models.Strategy {
	if !a.enabled {
		return a.defaultName
	}

	hasher := fnv.New32a()
	hasher.Write([]byte(a.salt + ":" + strconv.FormatInt(userID, 10)))
	bucket := int(hasher.Sum32() % uint32(a.total))

	cumulative := 0
	for _, g := range a.groups {
		cumulative += g.weight
		if bucket < cumulative {
			return g.strategy
		}
	}
	return a.defaultName
}
