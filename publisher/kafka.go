package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"goflare.io/parfum/models"
)

// TopicOrdersCompleted carries one message per recorded order, keyed by order number.
const TopicOrdersCompleted = "orders.completed"

var ErrDisabled = errors.New("kafka disabled")

// OrderCompleted is the message published for a recorded order.
type OrderCompleted struct {
	OrderNumber       string             `json:"order_number"`
	CheckoutSessionID string             `json:"checkout_session_id"`
	CartSessionID     string             `json:"cart_session_id"`
	CustomerEmail     string             `json:"customer_email,omitempty"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	AmountTotal       int64              `json:"amount_total"`
	ItemCount         int                `json:"item_count"`
	Items             []models.OrderItem `json:"items"`
	RecordedAt        time.Time          `json:"recorded_at"`
}

type Kafka struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewKafka(brokers []string, topic string, logger *zap.Logger) *Kafka {
	k := &Kafka{brokers: brokers, logger: logger}
	if k.Enabled() {
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return k
}

func (k *Kafka) Enabled() bool {
	return len(k.brokers) > 0
}

func NewOrderCompleted(order *models.Order) OrderCompleted {
	return OrderCompleted{
		OrderNumber:       order.OrderNumber,
		CheckoutSessionID: order.CheckoutSessionID,
		CartSessionID:     order.CartSessionID,
		CustomerEmail:     order.CustomerEmail,
		Status:            string(order.Status),
		Currency:          string(order.Currency),
		AmountTotal:       order.AmountTotal,
		ItemCount:         order.ItemCount,
		Items:             order.Items,
		RecordedAt:        order.CreatedAt,
	}
}

func (k *Kafka) PublishOrderCompleted(ctx context.Context, order *models.Order) error {
	if !k.Enabled() {
		return ErrDisabled
	}
	data, err := json.Marshal(NewOrderCompleted(order))
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.OrderNumber),
		Value: data,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish order %s: %w", order.OrderNumber, err)
	}
	k.logger.Debug("Order published", zap.String("order_number", order.OrderNumber))
	return nil
}

func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
