package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ ledger.Store = (*OrderStore)(nil)

type OrderStore struct{ DB *pgxpool.Pool }

// InTx runs fn in one database transaction, committing only when fn succeeds.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, s.DB, id, false)
}

func (s *OrderStore) ListOrders(ctx context.Context, q orders.ListQuery) ([]orders.Order, int, orders.Stats, error) {
	q.Page = q.Page.Normalize()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.PaymentStatus != "" {
		add("payment_status = $%d", string(q.PaymentStatus))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var stats orders.Stats
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_price), 0) FROM orders`+clause, args...).
		Scan(&stats.Count, &stats.TotalRevenue)
	if err != nil {
		return nil, 0, orders.Stats{}, err
	}

	pageArgs := append(append([]any{}, args...), q.Page.Limit, q.Page.Offset())
	rows, err := s.DB.Query(ctx, selectOrder+clause+
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2),
		pageArgs...)
	if err != nil {
		return nil, 0, orders.Stats{}, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Order, error) {
		o, err := scanOrder(row)
		if err != nil {
			return orders.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, 0, orders.Stats{}, err
	}
	if err := attachItems(ctx, s.DB, list); err != nil {
		return nil, 0, orders.Stats{}, err
	}
	return list, stats.Count, stats, nil
}

const selectOrder = `
	SELECT id, user_id, shipping_address, payment_method,
	       items_price, tax_price, shipping_price, total_price,
	       status, payment_status, payment_result, is_paid, paid_at,
	       is_delivered, delivered_at, cancelled_at, notes, created_at, updated_at
	FROM orders`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.ShippingAddress, &o.PaymentMethod,
		&o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.TotalPrice,
		&o.Status, &o.PaymentStatus, &o.PaymentResult, &o.IsPaid, &o.PaidAt,
		&o.IsDelivered, &o.DeliveredAt, &o.CancelledAt, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func loadOrder(ctx context.Context, q querier, id string, forUpdate bool) (*orders.Order, error) {
	sql := selectOrder + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	list := []orders.Order{*o}
	if err := attachItems(ctx, q, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// attachItems loads the line items of every order in list with one query.
func attachItems(ctx context.Context, q querier, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, name, image, price, quantity
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			li      orders.LineItem
		)
		if err := rows.Scan(&orderID, &li.ProductID, &li.Name, &li.Image, &li.Price, &li.Quantity); err != nil {
			return err
		}
		i := index[orderID]
		list[i].Items = append(list[i].Items, li)
	}
	return rows.Err()
}

type orderTx struct{ tx pgx.Tx }

func (t *orderTx) Products(ctx context.Context, ids []string) (map[string]catalog.Product, error) {
	rows, err := t.tx.Query(ctx, selectProduct+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	ps, err := pgx.CollectRows(rows, scanProductRow)
	if err != nil {
		return nil, err
	}
	out := make(map[string]catalog.Product, len(ps))
	for _, p := range ps {
		out[p.ID] = p
	}
	return out, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, shipping_address, payment_method,
		                   items_price, tax_price, shipping_price, total_price,
		                   status, payment_status, payment_result, is_paid, paid_at,
		                   is_delivered, delivered_at, cancelled_at, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.UserID, o.ShippingAddress, string(o.PaymentMethod),
		o.ItemsPrice, o.TaxPrice, o.ShippingPrice, o.TotalPrice,
		string(o.Status), string(o.PaymentStatus), o.PaymentResult, o.IsPaid, o.PaidAt,
		o.IsDelivered, o.DeliveredAt, o.CancelledAt, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, li := range o.Items {
		batch.Queue(`
			INSERT INTO order_items(order_id, position, product_id, name, image, price, quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, i, li.ProductID, li.Name, li.Image, li.Price, li.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *orderTx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *orderTx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, payment_result=$4, is_paid=$5, paid_at=$6,
		                  is_delivered=$7, delivered_at=$8, cancelled_at=$9, updated_at=$10
		WHERE id=$1`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentResult, o.IsPaid, o.PaidAt,
		o.IsDelivered, o.DeliveredAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ledger.ErrOrderNotFound
	}
	return nil
}

func (t *orderTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, int, error) {
	var left int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, sold = sold + $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&left)
	if err == nil {
		return true, left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, 0, err
	}

	var stock int
	err = t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return false, stock, nil
}

func (t *orderTx) ReleaseStock(ctx context.Context, productID string, qty int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, sold = GREATEST(sold - $2, 0), updated_at = now()
		WHERE id = $1`, productID, qty)
	return err
}
