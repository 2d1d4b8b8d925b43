package services

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/pkg/models"
)

// GraphActivityStore keeps a (:User)-[:INTERACTED_WITH]->(:Product) graph of
// storefront events and answers recent-activity lookups from it.
type GraphActivityStore struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	logger  *logrus.Logger
}

func NewGraphActivityStore(driver neo4j.DriverWithContext, timeout time.Duration, logger *logrus.Logger) *GraphActivityStore {
	return &GraphActivityStore{
		driver:  driver,
		timeout: timeout,
		logger:  logger,
	}
}

func (g *GraphActivityStore) RecentActivity(ctx context.Context, userID int64, limit int) ([]int64, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {user_id: $userId})-[r:INTERACTED_WITH]->(p:Product)
		WHERE r.action IN ['click', 'purchase']
		RETURN p.product_id AS product_id, max(r.at) AS last_seen
		ORDER BY last_seen DESC
		LIMIT $limit`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userId": userID,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query graph activity: %w", err)
	}

	var productIDs []int64
	for result.Next(ctx) {
		id, err := productIDFromValue(result.Record().Values[0])
		if err != nil {
			g.logger.WithError(err).WithField("user_id", userID).Warn("Skipping malformed graph activity record")
			continue
		}
		productIDs = append(productIDs, id)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read graph activity: %w", err)
	}

	return productIDs, nil
}

// StoreEvent mirrors a tracked event into the graph.
func (g *GraphActivityStore) StoreEvent(ctx context.Context, event *models.TrackEvent) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		MERGE (u:User {user_id: $userId})
		MERGE (p:Product {product_id: $productId})
		CREATE (u)-[:INTERACTED_WITH {action: $action, at: $at}]->(p)`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userId":    event.UserID,
		"productId": event.ProductID,
		"action":    string(event.Action),
		"at":        occurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to mirror event to graph: %w", err)
	}
	return nil
}

func productIDFromValue(v interface{}) (int64, error) {
	switch id := v.(type) {
	case int64:
		return id, nil
	case float64:
		if id != float64(int64(id)) {
			return 0, fmt.Errorf("non-integral product id %v", id)
		}
		return int64(id), nil
	default:
		return 0, fmt.Errorf("unexpected product id type %T", v)
	}
}

// MirroredEventStore writes every event to a primary store and, best effort,
// to a mirror. Mirror failures are logged and never fail the write.
type MirroredEventStore struct {
	primary EventStore
	mirror  EventStore
	logger  *logrus.Logger
}

func NewMirroredEventStore(primary, mirror EventStore, logger *logrus.Logger) *MirroredEventStore {
	return &MirroredEventStore{
		primary: primary,
		mirror:  mirror,
		logger:  logger,
	}
}

func (m *MirroredEventStore) StoreEvent(ctx context.Context, event *models.TrackEvent) error {
	if err := m.primary.StoreEvent(ctx, event); err != nil {
		return err
	}
	if m.mirror != nil {
		if err := m.mirror.StoreEvent(ctx, event); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"user_id":    event.UserID,
				"product_id": event.ProductID,
			}).Warn("Failed to mirror event")
		}
	}
	return nil
}

func (m *MirroredEventStore) PublishEvent(ctx context.Context, event *models.TrackEvent) error {
	return m.StoreEvent(ctx, event)
}
