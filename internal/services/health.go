package services

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/database"
)

type healthCheck func(ctx context.Context) error

type HealthService struct {
	critical    map[string]healthCheck
	nonCritical map[string]healthCheck
	models      ModelProvider
	catalog     CatalogProvider
	timeout     time.Duration
	logger      *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService checks Postgres as a critical dependency and Redis and
// Neo4j, when configured, as non-critical ones.
func NewHealthService(db *database.Database, models ModelProvider, catalog CatalogProvider, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	critical := map[string]healthCheck{}
	nonCritical := map[string]healthCheck{}

	if db.PG != nil {
		critical["postgresql"] = db.PG.Ping
	}
	if db.Redis != nil {
		nonCritical["redis"] = func(ctx context.Context) error {
			return db.Redis.Ping(ctx).Err()
		}
	}
	if db.Neo4j != nil {
		nonCritical["neo4j"] = db.Neo4j.VerifyConnectivity
	}

	return newHealthService(critical, nonCritical, models, catalog, reg, logger)
}

func newHealthService(critical, nonCritical map[string]healthCheck, models ModelProvider, catalog CatalogProvider, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	factory := promauto.With(reg)

	return &HealthService{
		critical:    critical,
		nonCritical: nonCritical,
		models:      models,
		catalog:     catalog,
		timeout:     5 * time.Second,
		logger:      logger,
		healthCheckStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
		lastHealthCheck: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_timestamp",
			Help: "Timestamp of last health check",
		}, []string{"service"}),
	}
}

// CheckHealth reports "unhealthy" when a critical dependency is down and
// "degraded" when a non-critical one is down or no model is live yet.
func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Details:   make(map[string]interface{}),
	}

	allCriticalHealthy := true
	for _, name := range sortedChecks(s.critical) {
		if err := s.run(ctx, s.critical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	for _, name := range sortedChecks(s.nonCritical) {
		if err := s.run(ctx, s.nonCritical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	modelReady := false
	if live := s.models.Live(); live != nil {
		modelReady = true
		status.Details["model_version"] = live.ID
		status.Details["model_products"] = live.Matrix.Len()
		status.Details["model_created_at"] = live.CreatedAt
		status.Services["model"] = "healthy"
	} else {
		status.Services["model"] = "unavailable"
	}
	s.UpdateHealthMetrics("model", modelReady)

	snap := s.catalog.Snapshot()
	status.Details["catalog_active_products"] = snap.Len()
	status.Details["catalog_fallback"] = snap.Fallback

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0 || !modelReady:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, check healthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return check(ctx)
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}

func sortedChecks(checks map[string]healthCheck) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
