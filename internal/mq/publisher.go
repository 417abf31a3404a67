package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Harvester/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested  MessageType = "run.requested"
	MessageTypeUnitCompleted MessageType = "unit.completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunRequestedPayload — запрос на внеочередной run provider'а.
type RunRequestedPayload struct {
	Provider string `json:"provider"`

	// MaxRuntime — runtime budget в формате time.ParseDuration.
	// Пусто — значение по умолчанию daemon'а.
	MaxRuntime string `json:"max_runtime,omitempty"`

	RetryFailed bool   `json:"retry_failed,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// UnitCompletedPayload — unit полностью скачан, manifest готов к загрузке.
type UnitCompletedPayload struct {
	UnitGUID    uuid.UUID         `json:"unit_guid"`
	Provider    string            `json:"provider"`
	EntityID    string            `json:"entity_id"`
	Date        string            `json:"date"`
	Backfill    bool              `json:"backfill,omitempty"`
	Artifacts   []domain.Artifact `json:"artifacts"`
	TotalBytes  int64             `json:"total_bytes"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
}

// NewUnitCompletedPayload собирает payload из завершённого unit'а.
func NewUnitCompletedPayload(unit *domain.UnitOfWork) UnitCompletedPayload {
	artifacts := unit.Artifacts
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	return UnitCompletedPayload{
		UnitGUID:    unit.GUID,
		Provider:    unit.Provider,
		EntityID:    unit.EntityID,
		Date:        unit.DateString(),
		Backfill:    unit.Backfill,
		Artifacts:   artifacts,
		TotalBytes:  unit.TotalBytes,
		DeliveredAt: unit.DeliveredAt,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

func (p *Publisher) message(t MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	}
}

// PublishUnitCompleted сообщает downstream о COMPLETE unit'е.
// Реализует orchestrator.Notifier.
func (p *Publisher) PublishUnitCompleted(ctx context.Context, unit *domain.UnitOfWork) error {
	msg := p.message(MessageTypeUnitCompleted, NewUnitCompletedPayload(unit))
	return p.Publish(ctx, ExchangeUnits, RoutingKeyUnitCompleted, msg)
}

// PublishRunRequested ставит запрос на run в harvest.requests.
func (p *Publisher) PublishRunRequested(ctx context.Context, payload RunRequestedPayload) error {
	msg := p.message(MessageTypeRunRequested, payload)
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRunRequested, msg)
}
