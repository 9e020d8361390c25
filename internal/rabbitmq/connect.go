// Package rabbitmq — обвязка над RabbitMQ для очереди заданий на списание:
// планировщик публикует задания, платёжный процессор их потребляет.
package rabbitmq

import (
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Exchange и маршрутизация заданий биллинга.
const (
	BillingExchange  = "billing"
	ChargeQueue      = "charge_jobs"
	ChargeRoutingKey = "charge.due"
)

// Connect устанавливает соединение с повторными попытками.
func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var conn *amqp.Connection
	var err error

	for range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel объявляет exchange и очередь заданий на списание.
func SetupChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(
		BillingExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := ch.QueueDeclare(ChargeQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, ChargeQueue, err)
	}
	if err := ch.QueueBind(ChargeQueue, ChargeRoutingKey, BillingExchange, false, nil); err != nil {
		return nil, fmt.Errorf("%s: failed to bind queue %s: %w", op, ChargeQueue, err)
	}

	return ch, nil
}
