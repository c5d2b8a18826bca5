package mq

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName    = "milestone.events"
	DLQExchangeName = "milestone.events.dlq"
)

// Route 是一条消费路由：工作队列绑定到事件 exchange，死信队列绑定到 DLQ exchange，
// 两者使用同一个 routing key
type Route struct {
	RoutingKey string
	Queue      string
}

// RouteFor 返回以服务名为队列前缀的路由，例如 milestone-reconciler.milestone.recompute
func RouteFor(service, routingKey string) Route {
	return Route{RoutingKey: routingKey, Queue: service + "." + routingKey}
}

// DLQ 返回死信队列名
func (r Route) DLQ() string {
	return r.Queue + ".dlq"
}

func (r Route) Validate() error {
	if strings.TrimSpace(r.RoutingKey) == "" {
		return errors.New("mq route requires a routing key")
	}
	if strings.TrimSpace(r.Queue) == "" {
		return fmt.Errorf("mq route %q requires a queue name", r.RoutingKey)
	}
	if strings.ContainsAny(r.RoutingKey, "*#") {
		return fmt.Errorf("mq route %q: wildcards are not allowed for a work queue", r.RoutingKey)
	}
	return nil
}

// dial 建立连接并打开 channel，同时声明事件与死信两个 exchange。
// 失败时已打开的资源全部关闭
func dial(url string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	for _, name := range []string{ExchangeName, DLQExchangeName} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return conn, ch, nil
}

// declareRoute 声明工作队列与死信队列并完成绑定，prefetch 固定为 1 以保持逐条处理
func declareRoute(ch *amqp091.Channel, r Route) (amqp091.Queue, error) {
	if _, err := ch.QueueDeclare(r.DLQ(), true, false, false, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(r.DLQ(), r.RoutingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	q, err := ch.QueueDeclare(r.Queue, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, r.RoutingKey, ExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to set qos: %w", err)
	}
	return q, nil
}
