package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/itemcf/pkg/models"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)
	return NewPostgresStore(mockDB, time.Second, testLogger()), mockDB
}

func TestPostgresStore_ListActiveProducts(t *testing.T) {
	store, mockDB := newMockStore(t)

	rows := pgxmock.NewRows([]string{"id", "name", "category", "price", "status"}).
		AddRow(int64(1), "Laptop", "Electronics", 999.0, "active").
		AddRow(int64(2), "Mouse", "Electronics", 25.5, "active")
	mockDB.ExpectQuery("FROM products").WillReturnRows(rows)

	products, err := store.ListActiveProducts(context.Background())

	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, models.Product{ID: 1, Name: "Laptop", Category: "Electronics", Price: 999, Status: models.ProductStatusActive}, products[0])
	assert.Equal(t, int64(2), products[1].ID)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveProducts_Error(t *testing.T) {
	store, mockDB := newMockStore(t)
	mockDB.ExpectQuery("SELECT id").WillReturnError(errors.New("connection refused"))

	_, err := store.ListActiveProducts(context.Background())

	assert.ErrorContains(t, err, "failed to query products")
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresStore_ListInteractionEvents(t *testing.T) {
	store, mockDB := newMockStore(t)

	rows := pgxmock.NewRows([]string{"user_id", "product_id", "action", "event_count"}).
		AddRow(int64(1), int64(10), "click", int64(3)).
		AddRow(int64(1), int64(10), "purchase", int64(1))
	mockDB.ExpectQuery("WHERE user_id IS NOT NULL AND product_id IS NOT NULL").WillReturnRows(rows)

	events, err := store.ListInteractionEvents(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []models.InteractionEvent{
		{UserID: 1, ProductID: 10, Action: models.ActionClick, Count: 3},
		{UserID: 1, ProductID: 10, Action: models.ActionPurchase, Count: 1},
	}, events)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresStore_RecentActivity(t *testing.T) {
	store, mockDB := newMockStore(t)

	rows := pgxmock.NewRows([]string{"product_id"}).AddRow(int64(7)).AddRow(int64(3))
	mockDB.ExpectQuery("WHERE user_id = \\$1 AND product_id IS NOT NULL").WithArgs(int64(42), 5).WillReturnRows(rows)

	ids, err := store.RecentActivity(context.Background(), 42, 5)

	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3}, ids)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresStore_StoreEvent(t *testing.T) {
	store, mockDB := newMockStore(t)

	mockDB.ExpectExec("INSERT INTO recommendation_events").
		WithArgs(int64(5), int64(3), "purchase", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.PublishEvent(context.Background(), &models.TrackEvent{
		UserID:         5,
		ProductID:      3,
		Action:         models.ActionPurchase,
		ExperimentName: "exp",
		Group:          "v1",
		Metadata:       map[string]interface{}{"source": "web"},
	})

	require.NoError(t, err)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresStore_StoreEvent_Error(t *testing.T) {
	store, mockDB := newMockStore(t)
	mockDB.ExpectExec("INSERT INTO recommendation_events").WillReturnError(errors.New("disk full"))

	err := store.StoreEvent(context.Background(), &models.TrackEvent{UserID: 1, ProductID: 2, Action: models.ActionClick})

	assert.ErrorContains(t, err, "failed to store event")
}

func TestNullableString(t *testing.T) {
	assert.Nil(t, nullableString(""))
	require.NotNil(t, nullableString("v2"))
	assert.Equal(t, "v2", *nullableString("v2"))
}
