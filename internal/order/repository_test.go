package order_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/btcshop-orders/internal/db"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		os.Exit(m.Run())
	}

	migrateURL := "pgx5://" + strings.TrimPrefix(strings.TrimPrefix(dsn, "postgres://"), "postgresql://")
	if err := db.Migrate(migrateURL, "../../migrations"); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate test database")
	}

	var err error
	testPool, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to test database")
	}

	code := m.Run()
	testPool.Close()
	os.Exit(code)
}

func setupRepository(t *testing.T) order.Repository {
	t.Helper()
	if testPool == nil {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	truncate := func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE TABLE order_items, orders, user_roles, users RESTART IDENTITY CASCADE")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(truncate)

	for _, name := range []string{"alice", "bob"} {
		_, err := testPool.Exec(context.Background(), `INSERT INTO users (username, password_hash) VALUES ($1, 'x')`, name)
		require.NoError(t, err)
	}

	return order.NewRepository(testPool)
}

func newStoredOrder(number, owner, address string) *order.Order {
	return &order.Order{
		OrderNumber:    number,
		OrderDate:      time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
		Owner:          owner,
		ExchangeRate:   dec("20000.00"),
		TotalFiat:      dec("20.00"),
		TotalCrypto:    dec("0.00100000"),
		PaymentAddress: address,
		Items: []order.OrderItem{
			{ProductID: 7, Quantity: 2, UnitPrice: dec("5.00")},
			{ProductID: 9, Quantity: 1, UnitPrice: dec("10.00")},
		},
	}
}

func save(t *testing.T, repo order.Repository, orders ...*order.Order) bool {
	t.Helper()
	uow := repo.NewUnitOfWork()
	for _, o := range orders {
		uow.AddOrder(o)
	}
	saved, err := uow.SaveAll(context.Background())
	require.NoError(t, err)
	return saved
}

func TestRepository_SaveAndGetByNumber(t *testing.T) {
	repo := setupRepository(t)
	o := newStoredOrder("N-1", "alice", "tb1qaaa")

	require.True(t, save(t, repo, o))
	assert.NotZero(t, o.ID)
	assert.NotZero(t, o.Items[0].ID)

	got, err := repo.GetOrderByNumber(context.Background(), "N-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "tb1qaaa", got.PaymentAddress)
	assert.True(t, o.OrderDate.Equal(got.OrderDate))
	assert.Equal(t, "0.00100000", got.TotalCrypto.StringFixed(8))
	assert.True(t, dec("20").Equal(got.TotalFiat))
	require.Len(t, got.Items, 2)
	assert.Equal(t, int64(7), got.Items[0].ProductID)
	assert.True(t, dec("5").Equal(got.Items[0].UnitPrice))
	assert.Equal(t, int64(9), got.Items[1].ProductID)
}

func TestRepository_SaveAll_DuplicateNumber(t *testing.T) {
	repo := setupRepository(t)
	require.True(t, save(t, repo, newStoredOrder("N-1", "alice", "tb1qaaa")))

	dup := newStoredOrder("N-1", "bob", "tb1qbbb")
	assert.False(t, save(t, repo, dup))
	assert.Zero(t, dup.ID)

	orders, err := repo.GetAllOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRepository_SaveAll_ReusedAddress(t *testing.T) {
	repo := setupRepository(t)
	require.True(t, save(t, repo, newStoredOrder("N-1", "alice", "tb1qaaa")))
	assert.False(t, save(t, repo, newStoredOrder("N-2", "bob", "tb1qaaa")))
}

func TestRepository_SaveAll_NothingStaged(t *testing.T) {
	repo := setupRepository(t)
	saved, err := repo.NewUnitOfWork().SaveAll(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestRepository_GetOrderByNumber_NotFound(t *testing.T) {
	repo := setupRepository(t)
	_, err := repo.GetOrderByNumber(context.Background(), "MISSING")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestRepository_OwnerQueries(t *testing.T) {
	repo := setupRepository(t)
	a := newStoredOrder("A", "alice", "tb1qa")
	b := newStoredOrder("B", "alice", "tb1qb")
	c := newStoredOrder("C", "bob", "tb1qc")
	require.True(t, save(t, repo, a, b, c))

	withItems, err := repo.GetOrdersByOwner(context.Background(), "alice", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, orderNumbers(withItems))
	for _, o := range withItems {
		assert.Len(t, o.Items, 2)
	}

	withoutItems, err := repo.GetOrdersByOwner(context.Background(), "alice", false)
	require.NoError(t, err)
	require.Len(t, withoutItems, 2)
	assert.Empty(t, withoutItems[0].Items)

	none, err := repo.GetOrdersByOwner(context.Background(), "carol", true)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	all, err := repo.GetAllOrders(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, orderNumbers(all))

	_, err = repo.GetOrderByID(context.Background(), "alice", c.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)

	got, err := repo.GetOrderByID(context.Background(), "bob", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.OrderNumber)

	got, err = repo.GetOrderByID(context.Background(), order.AnyOwner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.OrderNumber)
}
