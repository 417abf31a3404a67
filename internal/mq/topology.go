package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns  Exchange = "harvester.runs"
	ExchangeUnits Exchange = "harvester.units"
	ExchangeDLQ   Exchange = "harvester.dlq"
)

// Queues — имена очередей.
const (
	QueueRunRequests    Queue = "harvest.requests"
	QueueUnitsCompleted Queue = "units.completed"
	QueueDLQRequests    Queue = "dlq.requests"
)

// Routing keys.
const (
	RoutingKeyRunRequested  RoutingKey = "run.requested"
	RoutingKeyUnitCompleted RoutingKey = "unit.completed"
	RoutingKeyDLQRequests   RoutingKey = "requests"
)

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeRuns, ExchangeUnits, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRequests),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// harvest.requests — отвергнутые запросы уходят в DLQ
		{QueueRunRequests, dlqArgs},

		// units.completed — читает downstream loader
		{QueueUnitsCompleted, nil},

		{QueueDLQRequests, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunRequests, RoutingKeyRunRequested, ExchangeRuns},
		{QueueUnitsCompleted, RoutingKeyUnitCompleted, ExchangeUnits},
		{QueueDLQRequests, RoutingKeyDLQRequests, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Harvester RabbitMQ Topology:

    harvester.runs (direct)
    └── harvest.requests [routing: run.requested]
            Consumer: harvester-daemon
            DLQ: dlq.requests

    harvester.units (direct)
    └── units.completed [routing: unit.completed]
            Consumer: downstream loader

    harvester.dlq (direct)
    └── dlq.requests [routing: requests]
            Manual processing
  `
}
