package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgTx — хранилища движка поверх одной SQL-транзакции.
type pgTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *pgTx) Products() domain.CatalogStore { return catalogStore{t} }
func (t *pgTx) Orders() domain.OrderStore     { return orderStore{t} }
func (t *pgTx) Ledger() domain.StockLedger    { return stockLedger{t} }
func (t *pgTx) Outbox() domain.OutboxWriter   { return outboxWriter{t} }

// lockClause добавляет FOR UPDATE только в транзакциях на запись.
func (t *pgTx) lockClause() string {
	if t.writable {
		return " FOR UPDATE"
	}
	return ""
}

const productColumns = `id, name, description, price, stock_quantity, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func queryProducts(ctx context.Context, q querier, query string, args ...any) ([]domain.Product, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

type catalogStore struct{ t *pgTx }

// FetchProductsByIDs блокирует строки в порядке id, поэтому встречные заказы не создают deadlock.
func (s catalogStore) FetchProductsByIDs(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	products, err := queryProducts(ctx, s.t.tx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id`+s.t.lockClause(), ids)
	if err != nil {
		return nil, classify("fetch products", err)
	}
	return products, nil
}

func (s catalogStore) UpdateStock(ctx context.Context, id int64, quantity int32, updatedAt time.Time) error {
	res, err := s.t.tx.ExecContext(ctx,
		`UPDATE products SET stock_quantity = $2, updated_at = $3 WHERE id = $1`, id, quantity, updatedAt)
	if err != nil {
		if pgCode(err) == pgCheckViolation {
			return domain.NewStoreError("update stock", errors.Join(domain.ErrProductStockNegative, err))
		}
		return classify("update stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("update stock", err)
	}
	if affected == 0 {
		return &domain.ProductNotFoundError{ProductIDs: []int64{id}}
	}
	return nil
}

func (s catalogStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := queryProducts(ctx, s.t.tx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

type orderStore struct{ t *pgTx }

func (s orderStore) InsertOrderWithItems(ctx context.Context, order *domain.Order) error {
	err := s.t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			customer_name, customer_email, shipping_address, total_amount, status, order_date
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		order.CustomerName, order.CustomerEmail, order.ShippingAddress,
		order.TotalAmount, order.Status.String(), order.OrderDate,
	).Scan(&order.ID)
	if err != nil {
		return classify("insert order", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := s.t.tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			if pgCode(err) == pgForeignKeyViolation {
				return &domain.ProductNotFoundError{ProductIDs: []int64{item.ProductID}}
			}
			return classify("insert order item", err)
		}
	}
	return nil
}

const orderColumns = `id, customer_name, customer_email, shipping_address, total_amount, status,
	order_date, shipped_date, delivered_date`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		o         domain.Order
		status    string
		shipped   sql.NullTime
		delivered sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.CustomerName, &o.CustomerEmail, &o.ShippingAddress, &o.TotalAmount,
		&status, &o.OrderDate, &shipped, &delivered); err != nil {
		return domain.Order{}, err
	}

	parsed, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = parsed
	o.OrderDate = o.OrderDate.UTC()
	if shipped.Valid {
		at := shipped.Time.UTC()
		o.ShippedDate = &at
	}
	if delivered.Valid {
		at := delivered.Time.UTC()
		o.DeliveredDate = &at
	}
	return o, nil
}

// FetchOrderWithItems в транзакции на запись блокирует строку заказа: параллельное удаление ждёт
// и затем видит, что заказа уже нет.
func (s orderStore) FetchOrderWithItems(ctx context.Context, id int64) (domain.Order, error) {
	order, err := scanOrder(s.t.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`+s.t.lockClause(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify("fetch order", err)
	}

	items, err := s.itemsByOrder(ctx, []int64{id})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[id]
	return order, nil
}

func (s orderStore) ListOrdersWithItems(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.t.tx.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY order_date DESC, id DESC`)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, classify("scan order", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate orders", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := s.itemsByOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (s orderStore) itemsByOrder(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := s.t.tx.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, classify("fetch order items", err)
	}
	defer rows.Close()

	result := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, classify("scan order item", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate order items", err)
	}
	return result, nil
}

func (s orderStore) DeleteOrderWithItems(ctx context.Context, id int64) error {
	res, err := s.t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return classify("delete order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("delete order", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (s orderStore) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus, at time.Time) error {
	var shipped, delivered sql.NullTime
	switch status {
	case domain.OrderStatusShipped:
		shipped = sql.NullTime{Time: at, Valid: true}
	case domain.OrderStatusDelivered:
		delivered = sql.NullTime{Time: at, Valid: true}
	}

	res, err := s.t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    shipped_date = COALESCE($3, shipped_date),
		    delivered_date = COALESCE($4, delivered_date)
		WHERE id = $1
	`, id, status.String(), shipped, delivered)
	if err != nil {
		return classify("update order status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("update order status", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

type stockLedger struct{ t *pgTx }

func (l stockLedger) Append(ctx context.Context, movements ...domain.StockMovement) error {
	for _, m := range movements {
		occurredAt := m.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		if _, err := l.t.tx.ExecContext(ctx, `
			INSERT INTO stock_movements (product_id, order_id, delta, reason, occurred_at)
			VALUES ($1,$2,$3,$4,$5)
		`, m.ProductID, m.OrderID, m.Delta, string(m.Reason), occurredAt); err != nil {
			return classify("append stock movement", err)
		}
	}
	return nil
}

func (l stockLedger) ListByProduct(ctx context.Context, productID int64) ([]domain.StockMovement, error) {
	return queryMovements(ctx, l.t.tx, `
		SELECT id, product_id, order_id, delta, reason, occurred_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY id
	`, productID)
}

func (l stockLedger) ListAll(ctx context.Context) ([]domain.StockMovement, error) {
	return queryMovements(ctx, l.t.tx, `
		SELECT id, product_id, order_id, delta, reason, occurred_at
		FROM stock_movements
		ORDER BY id
	`)
}

func queryMovements(ctx context.Context, q querier, query string, args ...any) ([]domain.StockMovement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list stock movements", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			m      domain.StockMovement
			reason string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.OrderID, &m.Delta, &reason, &m.OccurredAt); err != nil {
			return nil, classify("scan stock movement", err)
		}
		m.Reason = domain.MovementReason(reason)
		m.OccurredAt = m.OccurredAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate stock movements", err)
	}
	return movements, nil
}

type outboxWriter struct{ t *pgTx }

// Enqueue пишет событие в той же транзакции, что и изменения заказа.
func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg, err := insertOutbox(ctx, w.t.tx, msg)
	if err != nil {
		return domain.OutboxMessage{}, classify("enqueue outbox message", err)
	}
	return msg, nil
}

func insertOutbox(ctx context.Context, q querier, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, string(payload), msg.CreatedAt)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("insert outbox message: %w", err)
	}
	return msg, nil
}

var _ domain.Tx = (*pgTx)(nil)
