package services

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/pkg/models"
)

// DatabaseQuerier interface for database operations
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresStore reads the catalog and the event log from Postgres and
// appends tracked events to it.
type PostgresStore struct {
	db      DatabaseQuerier
	timeout time.Duration
	logger  *logrus.Logger
}

func NewPostgresStore(db DatabaseQuerier, timeout time.Duration, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		db:      db,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStore) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, name, category, price, status
		FROM products
		WHERE status = 'active'
		ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var (
			p      models.Product
			status string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &status); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Status = models.ProductStatus(status)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}

	return products, nil
}

func (s *PostgresStore) ListInteractionEvents(ctx context.Context) ([]models.InteractionEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, product_id, action, COUNT(*) AS event_count
		FROM recommendation_events
		WHERE user_id IS NOT NULL AND product_id IS NOT NULL
			AND action IN ('click', 'purchase')
		GROUP BY user_id, product_id, action`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction events: %w", err)
	}
	defer rows.Close()

	var events []models.InteractionEvent
	for rows.Next() {
		var (
			e      models.InteractionEvent
			action string
			count  int64
		)
		if err := rows.Scan(&e.UserID, &e.ProductID, &action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan interaction event: %w", err)
		}
		e.Action = models.Action(action)
		e.Count = int(count)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interaction events: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) RecentActivity(ctx context.Context, userID int64, limit int) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT product_id
		FROM recommendation_events
		WHERE user_id = $1 AND product_id IS NOT NULL
			AND action IN ('click', 'purchase')
		GROUP BY product_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	defer rows.Close()

	var productIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan recent activity: %w", err)
		}
		productIDs = append(productIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent activity: %w", err)
	}

	return productIDs, nil
}

func (s *PostgresStore) StoreEvent(ctx context.Context, event *models.TrackEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO recommendation_events
			(user_id, product_id, action, experiment_name, group_name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		event.UserID,
		event.ProductID,
		string(event.Action),
		nullableString(event.ExperimentName),
		nullableString(event.Group),
		metadata,
		occurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    event.UserID,
		"product_id": event.ProductID,
		"action":     event.Action,
	}).Debug("Recommendation event stored")

	return nil
}

// PublishEvent lets the store act as the event sink when no message bus is
// configured.
func (s *PostgresStore) PublishEvent(ctx context.Context, event *models.TrackEvent) error {
	return s.StoreEvent(ctx, event)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
