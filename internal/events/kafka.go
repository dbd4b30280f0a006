package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/vasiliy-maslov/btcshop-orders/internal/config"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
)

const (
	TypeOrderCreated = "order.created"

	publishTimeout = 5 * time.Second
)

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Item struct {
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type OrderCreated struct {
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	OccurredAt     time.Time `json:"occurredAt"`
	OrderID        int64     `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	OrderDate      time.Time `json:"orderDate"`
	Owner          string    `json:"owner"`
	ExchangeRate   string    `json:"exchangeRate"`
	TotalFiat      string    `json:"totalFiat"`
	TotalCrypto    string    `json:"totalCrypto"`
	PaymentAddress string    `json:"paymentAddress"`
	Items          []Item    `json:"items"`
}

// KafkaNotifier publishes an OrderCreated event keyed by order number, so all
// events of one order land on the same partition.
type KafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, now: time.Now}
}

// New returns a Kafka-backed notifier, or Nop when no brokers are configured.
func New(cfg config.KafkaConfig) order.Notifier {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("events: no kafka brokers configured, order events disabled")
		return Nop{}
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("events: publishing order events to kafka")
	return NewKafkaNotifier(NewKafkaWriter(cfg))
}

func (n *KafkaNotifier) OrderCreated(ctx context.Context, o order.Order) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("events: failed to generate event id: %w", err)
	}

	evt := OrderCreated{
		EventID:        id.String(),
		Type:           TypeOrderCreated,
		OccurredAt:     n.now().UTC(),
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		OrderDate:      o.OrderDate,
		Owner:          o.Owner,
		ExchangeRate:   o.ExchangeRate.String(),
		TotalFiat:      order.FormatFiat(o.TotalFiat),
		TotalCrypto:    o.TotalCrypto.StringFixed(order.CryptoPrecision),
		PaymentAddress: o.PaymentAddress,
		Items:          make([]Item, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		evt.Items = append(evt.Items, Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := publishJSON(ctx, n.writer, o.OrderNumber, evt); err != nil {
		return fmt.Errorf("events: failed to publish %s for order %s: %w", TypeOrderCreated, o.OrderNumber, err)
	}
	log.Debug().Str("order_number", o.OrderNumber).Str("event_id", evt.EventID).Msg("events: order created event published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func publishJSON(ctx context.Context, w MessageWriter, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()})
}

// Nop drops every event.
type Nop struct{}

func (Nop) OrderCreated(context.Context, order.Order) error { return nil }
