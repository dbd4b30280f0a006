package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// AnyOwner disables the ownership filter of GetOrderByID.
const AnyOwner = ""

type Repository interface {
	GetAllOrders(ctx context.Context) ([]Order, error)
	GetOrdersByOwner(ctx context.Context, owner string, includeItems bool) ([]Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	GetOrderByID(ctx context.Context, owner string, id int64) (*Order, error)
	NewUnitOfWork() UnitOfWork
}

// UnitOfWork stages orders and writes them atomically. SaveAll returns false,
// with a nil error, when nothing was written because of a uniqueness conflict
// or because nothing was staged.
type UnitOfWork interface {
	AddOrder(o *Order)
	SaveAll(ctx context.Context) (bool, error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type postgresRepository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, order_number, order_date, owner, exchange_rate, total_fiat, total_crypto, payment_address, created_at`

func scanOrder(row pgx.Row, o *Order) error {
	return row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.OrderDate,
		&o.Owner,
		&o.ExchangeRate,
		&o.TotalFiat,
		&o.TotalCrypto,
		&o.PaymentAddress,
		&o.CreatedAt,
	)
}

func (r *postgresRepository) GetAllOrders(ctx context.Context) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY order_date DESC, id DESC`
	return r.queryOrders(ctx, true, query)
}

func (r *postgresRepository) GetOrdersByOwner(ctx context.Context, owner string, includeItems bool) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner = $1 ORDER BY order_date DESC, id DESC`
	orders, err := r.queryOrders(ctx, includeItems, query, owner)
	if err != nil {
		return nil, fmt.Errorf("repository: owner %s: %w", owner, err)
	}
	return orders, nil
}

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	return r.queryOne(ctx, query, number)
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, owner string, id int64) (*Order, error) {
	if owner == AnyOwner {
		return r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	}
	return r.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND owner = $2`, id, owner)
}

func (r *postgresRepository) queryOne(ctx context.Context, query string, args ...any) (*Order, error) {
	var o Order
	if err := scanOrder(r.db.QueryRow(ctx, query, args...), &o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}

	orders := []Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *postgresRepository) queryOrders(ctx context.Context, includeItems bool, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}
	rows.Close()

	if includeItems {
		if err := r.loadItems(ctx, orders); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// loadItems fills Items of every order with a single query.
func (r *postgresRepository) loadItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for i := range orders {
		orders[i].Items = make([]OrderItem, 0)
		byID[orders[i].ID] = &orders[i]
		ids = append(ids, orders[i].ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    OrderItem
			orderID int64
		)
		if err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	return nil
}

func (r *postgresRepository) NewUnitOfWork() UnitOfWork {
	return &unitOfWork{db: r.db}
}

type unitOfWork struct {
	db      DB
	pending []*Order
}

func (u *unitOfWork) AddOrder(o *Order) {
	u.pending = append(u.pending, o)
}

func (u *unitOfWork) SaveAll(ctx context.Context) (saved bool, err error) {
	if len(u.pending) == 0 {
		return false, nil
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		}
		if err != nil || !saved {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
			u.forgetIDs()
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			saved = false
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			u.forgetIDs()
			return
		}
		u.pending = nil
	}()

	for _, o := range u.pending {
		ok, insErr := insertOrder(ctx, tx, o)
		if insErr != nil {
			return false, insErr
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// forgetIDs clears keys assigned inside a transaction that did not commit.
func (u *unitOfWork) forgetIDs() {
	for _, o := range u.pending {
		o.ID = 0
		for i := range o.Items {
			o.Items[i].ID = 0
		}
	}
}

// insertOrder reports false when a unique constraint rejected the row.
func insertOrder(ctx context.Context, tx pgx.Tx, o *Order) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, order_date, owner, exchange_rate, total_fiat, total_crypto, payment_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		o.OrderNumber,
		o.OrderDate,
		o.Owner,
		o.ExchangeRate,
		o.TotalFiat,
		o.TotalCrypto,
		o.PaymentAddress,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			log.Warn().Str("order_number", o.OrderNumber).Str("constraint", pgErr.ConstraintName).Msg("repository: order rejected by unique constraint")
			return false, nil
		}
		return false, fmt.Errorf("repository: failed to insert order %s: %w", o.OrderNumber, err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, o.ID, i+1, item.ProductID, item.Quantity, item.UnitPrice).Scan(&item.ID)
		if err != nil {
			return false, fmt.Errorf("repository: failed to insert item %d of order %s: %w", i+1, o.OrderNumber, err)
		}
	}
	return true, nil
}
