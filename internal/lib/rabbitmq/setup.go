package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Topology описывает обменник и очередь результатов проверки.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// NewTopology возвращает топологию для очереди queue: direct обменник
// "<queue>.exchange" и ключ маршрутизации, совпадающий с именем очереди.
func NewTopology(queue string) Topology {
	return Topology{
		Exchange:   queue + ".exchange",
		Queue:      queue,
		RoutingKey: queue,
	}
}

// DeadLetterQueue возвращает имя очереди недоставленных сообщений.
func (t Topology) DeadLetterQueue() string {
	return t.Queue + ".dead"
}

// DeclareTopology объявляет обменник, рабочую очередь и очередь недоставленных сообщений.
// Отклоненные без повторной постановки сообщения рабочей очереди попадают в DeadLetterQueue.
func DeclareTopology(ch *amqp.Channel, t Topology) error {
	const op = "rabbitmq.DeclareTopology"

	err := ch.ExchangeDeclare(
		t.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	dead := t.DeadLetterQueue()
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: failed to declare queue %s: %w", op, dead, err)
	}
	if err := ch.QueueBind(dead, dead, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("%s: failed to bind queue %s: %w", op, dead, err)
	}

	_, err = ch.QueueDeclare(
		t.Queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    t.Exchange,
			"x-dead-letter-routing-key": dead,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: failed to declare queue %s: %w", op, t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, t.Queue, t.RoutingKey, err)
	}
	return nil
}
