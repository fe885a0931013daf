package domain

import (
	"context"
	"time"
)

// TxManager выполняет функцию в транзакции хранилища.
type TxManager interface {
	// InTx открывает транзакцию на запись, вызывает fn и фиксирует результат.
	// Любая ошибка или panic внутри fn откатывает все изменения.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// InReadTx выполняет fn на согласованном снимке только для чтения.
	InReadTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx — набор хранилищ, работающих в одной транзакции.
type Tx interface {
	Products() CatalogStore
	Orders() OrderStore
	Ledger() StockLedger
	Outbox() OutboxWriter
}

// CatalogStore — доступ к товарам внутри транзакции движка.
type CatalogStore interface {
	// FetchProductsByIDs загружает товары одним запросом; отсутствующие id просто не попадают в ответ.
	// В транзакции на запись строки блокируются до commit/rollback.
	FetchProductsByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// UpdateStock записывает новый остаток товара.
	UpdateStock(ctx context.Context, id int64, quantity int32, updatedAt time.Time) error
	// ListProducts возвращает весь каталог, упорядоченный по id.
	ListProducts(ctx context.Context) ([]Product, error)
}

// OrderStore — доступ к заказам внутри транзакции.
type OrderStore interface {
	// InsertOrderWithItems сохраняет заказ и позиции, проставляя им идентификаторы.
	InsertOrderWithItems(ctx context.Context, order *Order) error
	// FetchOrderWithItems возвращает ErrOrderNotFound, если заказа нет.
	FetchOrderWithItems(ctx context.Context, id int64) (Order, error)
	// ListOrdersWithItems возвращает заказы по убыванию даты, затем id.
	ListOrdersWithItems(ctx context.Context) ([]Order, error)
	// DeleteOrderWithItems удаляет заказ вместе с позициями; ErrOrderNotFound, если заказа нет.
	DeleteOrderWithItems(ctx context.Context, id int64) error
	// UpdateStatus меняет статус и соответствующую дату.
	UpdateStatus(ctx context.Context, id int64, status OrderStatus, at time.Time) error
}

// StockLedger — журнал движения остатков.
type StockLedger interface {
	Append(ctx context.Context, movements ...StockMovement) error
	ListByProduct(ctx context.Context, productID int64) ([]StockMovement, error)
	ListAll(ctx context.Context) ([]StockMovement, error)
}

// OutboxWriter пишет события в outbox в рамках транзакции движка.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// ProductRepository управляет каталогом вне транзакций движка.
type ProductRepository interface {
	Create(ctx context.Context, product Product) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	// List возвращает товары, упорядоченные по названию.
	List(ctx context.Context) ([]Product, error)
	// Delete возвращает ErrProductInUse, если товар есть в заказах.
	Delete(ctx context.Context, id int64) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; повторная публикация того же ID допустима.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository — сторона outbox, которую читает воркер публикации.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	// Release удаляет ключ в статусе processing; завершённые записи не трогает.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
