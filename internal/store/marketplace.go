package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const productColumns = `id, name, description, price_cents, stock, active, created_at, updated_at`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.Exec(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, p.PriceCents, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "product")
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	tag, err := s.db.Exec(ctx, `UPDATE products SET name = $2, description = $3, price_cents = $4,
		stock = $5, active = $6, updated_at = $7 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.PriceCents, p.Stock, p.Active, p.UpdatedAt)
	if err != nil {
		return mapErr(err, "product")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "product")
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, mapErr(err, "product")
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := s.db.Query(ctx, query+` ORDER BY name, id`)
	if err != nil {
		return nil, mapErr(err, "product")
	}
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapErr(err, "product")
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err(), "product")
}

// CreateOrder reserves stock for every item and stores the order with the
// product names and prices as they are now. Items must reference distinct
// products; they are locked in the order given.
func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		o.TotalCents = 0
		for i := range o.Items {
			it := &o.Items[i]
			var (
				stock  int
				active bool
			)
			err := tx.QueryRow(ctx, `SELECT name, price_cents, stock, active FROM products WHERE id = $1 FOR UPDATE`, it.ProductID).
				Scan(&it.Name, &it.PriceCents, &stock, &active)
			if err != nil {
				return mapErr(err, "product")
			}
			if !active {
				return utils.Conflict("product_unavailable", fmt.Sprintf("%s is not available", it.Name))
			}
			if stock < it.Quantity {
				return utils.Conflict("insufficient_stock", fmt.Sprintf("only %d of %s left", stock, it.Name))
			}
			if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1`,
				it.ProductID, it.Quantity, o.CreatedAt); err != nil {
				return mapErr(err, "product")
			}
			o.TotalCents += it.PriceCents * int64(it.Quantity)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO orders (id, member_id, status, total_cents, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.MemberID, string(o.Status), o.TotalCents, o.CreatedAt, o.UpdatedAt); err != nil {
			return mapErr(err, "order")
		}
		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`INSERT INTO order_items (order_id, product_id, name, quantity, price_cents)
				VALUES ($1, $2, $3, $4, $5)`, o.ID, it.ProductID, it.Name, it.Quantity, it.PriceCents)
		}
		return mapErr(tx.SendBatch(ctx, batch).Close(), "order")
	})
}

const orderColumns = `id, member_id, status, total_cents, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o      models.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.MemberID, &status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "order")
	}
	orders := []models.Order{*o}
	if err := s.loadOrderItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.MemberID != "" {
		args = append(args, f.MemberID)
		where = append(where, fmt.Sprintf("member_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitOr(f.Limit, 50, 200))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "order")
	}
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr(err, "order")
		}
		out = append(out, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "order")
	}
	if err := s.loadOrderItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := s.db.Query(ctx, `SELECT order_id, product_id, name, quantity, price_cents
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, name`, ids)
	if err != nil {
		return mapErr(err, "order")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      models.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &it.PriceCents); err != nil {
			return mapErr(err, "order")
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return mapErr(rows.Err(), "order")
}

// TransitionOrder moves an order from one status to another, returning its
// items to stock when restock is set.
func (s *Store) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, restock bool, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
			id, string(from), string(to), at)
		if err != nil {
			return mapErr(err, "order")
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return mapErr(err, "order")
			}
			if !exists {
				return mapErr(pgx.ErrNoRows, "order")
			}
			return utils.Conflict("status_changed", "order status changed concurrently")
		}
		if !restock {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE products p SET stock = p.stock + oi.quantity, updated_at = $2
			FROM order_items oi WHERE oi.order_id = $1 AND p.id = oi.product_id`, id, at)
		return mapErr(err, "product")
	})
}
