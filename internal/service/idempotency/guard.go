package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
)

// DefaultTTL — срок хранения ответа по ключу идемпотентности.
const DefaultTTL = 24 * time.Hour

// Replay — сохранённое состояние предыдущего запроса с тем же ключом.
type Replay struct {
	Status     domain.IdempotencyStatus
	Body       []byte
	StatusCode int
}

// Guard ведёт запрос через жизненный цикл ключа: processing -> done | failed.
// Транспорты сами решают, как превратить Replay в ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. При ttl <= 0 используется DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// RequestHash строит отпечаток запроса: метод и тело, sha256 в hex.
func RequestHash(method string, payload []byte) string {
	buf := make([]byte, 0, len(method)+1+len(payload))
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, payload...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Begin занимает ключ. Если ключ свободен, возвращает (nil, nil) и запрос нужно выполнить.
// Если ключ уже занят тем же запросом, возвращает его Replay.
// Ключ с другим телом запроса даёт ErrIdempotencyHashMismatch.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (*Replay, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return &Replay{
			Status:     record.Status,
			Body:       record.ResponseBody,
			StatusCode: record.StatusCode,
		}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	default:
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return nil, err
	}
}

// Done сохраняет успешный ответ. Ошибка сохранения только логируется.
// Запись идёт без отмены ctx: отключившийся клиент не должен оставить ключ в processing.
func (g *Guard) Done(ctx context.Context, key string, body []byte, statusCode int) {
	if err := g.repo.MarkDone(context.WithoutCancel(ctx), key, body, statusCode); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
}

// Failed сохраняет окончательный ответ с ошибкой. Ошибка сохранения только логируется.
func (g *Guard) Failed(ctx context.Context, key string, body []byte, statusCode int) {
	if err := g.repo.MarkFailed(context.WithoutCancel(ctx), key, body, statusCode); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

// Release освобождает ключ после временного сбоя, и повтор с тем же ключом выполняется заново.
func (g *Guard) Release(ctx context.Context, key string) {
	if err := g.repo.Release(context.WithoutCancel(ctx), key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

// Finish завершает ключ по результату запроса: временные сбои освобождают ключ,
// остальные ответы сохраняются для повтора.
func (g *Guard) Finish(ctx context.Context, key string, runErr error, body []byte, statusCode int) {
	switch {
	case runErr == nil:
		g.Done(ctx, key, body, statusCode)
	case domain.IsTransient(runErr):
		g.Release(ctx, key)
	default:
		g.Failed(ctx, key, body, statusCode)
	}
}
