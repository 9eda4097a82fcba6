package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/obialo/tutornotify/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMqClient struct {
	Conn      *amqp.Connection
	Channel   *amqp.Channel
	Config    config.RabbitMQConfig
	Connected bool
}

func NewRabbitMqService(cfg config.RabbitMQConfig) (*RabbitMqClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not create a channel: %w", err)
	}
	return &RabbitMqClient{
		Conn:      conn,
		Channel:   channel,
		Config:    cfg,
		Connected: true,
	}, nil
}

func (r *RabbitMqClient) CloseConnection() {
	r.Channel.Close()
	r.Conn.Close()
	r.Connected = false
}

func (r *RabbitMqClient) IsConnected() bool {
	return r.Connected && !r.Conn.IsClosed()
}

// set up our exchange
func (r *RabbitMqClient) SetUpExchangeAndQueue() error {
	if err := r.Channel.ExchangeDeclare(
		r.Config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("error in declaring exchange")
	}
	queues := []string{
		r.Config.EmailQueue,
		r.Config.SmsQueue,
		r.Config.FailedQueue,
	}
	for _, queueName := range queues {
		if _, err := r.Channel.QueueDeclare(
			queueName,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("error declaring queue")
		}
		err := r.Channel.QueueBind(
			queueName,
			queueName,
			r.Config.Exchange,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
		}
	}
	return nil
}

func (r *RabbitMqClient) Publish(ctx context.Context, routingKey string, message interface{}) error {
	by, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = r.Channel.PublishWithContext(
		ctx,
		r.Config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         by,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (r *RabbitMqClient) PublishEmail(ctx context.Context, message interface{}) error {
	return r.Publish(ctx, r.Config.EmailQueue, message)
}

func (r *RabbitMqClient) PublishSms(ctx context.Context, message interface{}) error {
	return r.Publish(ctx, r.Config.SmsQueue, message)
}

func (r *RabbitMqClient) PublishFailed(ctx context.Context, message interface{}) error {
	return r.Publish(ctx, r.Config.FailedQueue, message)
}

// Consume starts delivering messages from one queue. The caller owns
// acking.
func (r *RabbitMqClient) Consume(queueName string) (<-chan amqp.Delivery, error) {
	return r.Channel.Consume(
		queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}
