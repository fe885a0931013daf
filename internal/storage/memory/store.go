package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

var errReadOnlyTx = errors.New("write in read-only transaction")

// state — согласованный снимок данных, который целиком заменяется при commit.
type state struct {
	products  map[int64]domain.Product
	orders    map[int64]domain.Order
	movements []domain.StockMovement

	nextProductID  int64
	nextOrderID    int64
	nextItemID     int64
	nextMovementID int64
}

func newState() *state {
	return &state{
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
	}
}

// clone делает рабочую копию для транзакции на запись.
// Заказы копируются по значению: позиции после вставки не изменяются.
func (s *state) clone() *state {
	dst := &state{
		products:       make(map[int64]domain.Product, len(s.products)),
		orders:         make(map[int64]domain.Order, len(s.orders)),
		movements:      append([]domain.StockMovement(nil), s.movements...),
		nextProductID:  s.nextProductID,
		nextOrderID:    s.nextOrderID,
		nextItemID:     s.nextItemID,
		nextMovementID: s.nextMovementID,
	}
	for id, p := range s.products {
		dst.products[id] = p
	}
	for id, o := range s.orders {
		dst.orders[id] = o
	}
	return dst
}

// Store — in-memory хранилище каталога, заказов и журнала остатков (для разработки/тестов).
//
// Транзакции на запись выполняются строго по одной и работают с копией состояния:
// commit публикует копию, rollback её отбрасывает.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *state
	outbox  *outboxRepositoryInMemory
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		state:  newState(),
		outbox: NewOutboxRepository(),
	}
}

// InTx выполняет fn в транзакции на запись.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError("begin tx", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	tx := &memTx{state: working}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError("commit tx", err)
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()

	s.outbox.append(tx.outbox...)
	return nil
}

// InReadTx выполняет fn на текущем снимке; запись в такой транзакции запрещена.
func (s *Store) InReadTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError("begin read tx", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &memTx{state: s.state, readOnly: true})
}

// Outbox возвращает outbox, в который попадают события зафиксированных транзакций.
func (s *Store) Outbox() domain.OutboxRepository {
	return s.outbox
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

var _ domain.TxManager = (*Store)(nil)
