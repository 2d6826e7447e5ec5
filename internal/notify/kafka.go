// Package notify publishes post-commit order events to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Topics names the topic of each event kind.
type Topics struct {
	OrderCreated   string
	CustomerNotice string
	LowStock       string
}

// DefaultTopics are used for empty topic names.
var DefaultTopics = Topics{
	OrderCreated:   "checkout.order-created",
	CustomerNotice: "checkout.customer-notice",
	LowStock:       "checkout.low-stock",
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Dispatcher)(nil)

// Dispatcher implements order.Notifier over a single kafka-go writer.
// Messages carry their own topic and are keyed so that events of one
// merchant or shopper stay ordered.
type Dispatcher struct {
	writer messageWriter
	topics Topics
	now    func() time.Time
}

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewDispatcher creates a Dispatcher writing to brokers.
func NewDispatcher(brokers []string, topics Topics) *Dispatcher {
	return newDispatcher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, topics)
}

func newDispatcher(w messageWriter, topics Topics) *Dispatcher {
	if topics.OrderCreated == "" {
		topics.OrderCreated = DefaultTopics.OrderCreated
	}
	if topics.CustomerNotice == "" {
		topics.CustomerNotice = DefaultTopics.CustomerNotice
	}
	if topics.LowStock == "" {
		topics.LowStock = DefaultTopics.LowStock
	}
	return &Dispatcher{writer: w, topics: topics, now: time.Now}
}

// Close flushes and closes the writer.
func (d *Dispatcher) Close() error {
	return d.writer.Close()
}

// OrderCreated is keyed by merchant, one message per merchant order.
type OrderCreated struct {
	GroupID    string          `json:"group_id"`
	OrderID    string          `json:"order_id"`
	ParentID   string          `json:"parent_id,omitempty"`
	MerchantID int64           `json:"merchant_id"`
	UID        int64           `json:"uid"`
	Kind       order.Kind      `json:"kind"`
	Status     order.Status    `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Remark     string          `json:"remark,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CustomerNotice is keyed by shopper.
type CustomerNotice struct {
	GroupID   string          `json:"group_id"`
	UID       int64           `json:"uid"`
	OrderIDs  []string        `json:"order_ids"`
	Total     decimal.Decimal `json:"total"`
	PayMethod string          `json:"pay_method,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// LowStock is keyed by merchant.
type LowStock struct {
	MerchantID int64 `json:"merchant_id"`
	ProductID  int64 `json:"product_id"`
	SKUID      int64 `json:"sku_id"`
	Remaining  int   `json:"remaining"`
	Threshold  int   `json:"threshold"`
}

// OrderCreated publishes one event per order in the group.
func (d *Dispatcher) OrderCreated(ctx context.Context, g *order.Group) error {
	msgs := make([]kafka.Message, 0, len(g.Orders))
	for _, o := range g.Orders {
		msg, err := d.message(d.topics.OrderCreated, o.MerchantID, OrderCreated{
			GroupID:    g.ID,
			OrderID:    o.ID,
			ParentID:   o.ParentID,
			MerchantID: o.MerchantID,
			UID:        g.UID,
			Kind:       o.Kind,
			Status:     o.Status,
			Total:      o.Total,
			Remark:     o.Remark,
			CreatedAt:  o.CreatedAt,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return d.write(ctx, msgs)
}

// NotifyCustomer publishes a single notice for the whole group.
func (d *Dispatcher) NotifyCustomer(ctx context.Context, g *order.Group) error {
	ids := make([]string, len(g.Orders))
	for i, o := range g.Orders {
		ids[i] = o.ID
	}
	msg, err := d.message(d.topics.CustomerNotice, g.UID, CustomerNotice{
		GroupID:   g.ID,
		UID:       g.UID,
		OrderIDs:  ids,
		Total:     g.Total,
		PayMethod: g.PayMethod,
		CreatedAt: g.CreatedAt,
	})
	if err != nil {
		return err
	}
	return d.write(ctx, []kafka.Message{msg})
}

// LowStock publishes one alert per SKU.
func (d *Dispatcher) LowStock(ctx context.Context, alerts []order.LowStockAlert) error {
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		msg, err := d.message(d.topics.LowStock, a.MerchantID, LowStock(a))
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return d.write(ctx, msgs)
}

func (d *Dispatcher) message(topic string, key int64, payload any) (kafka.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, errors.Wrapf(err, "marshal %s", topic)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(key, 10)),
		Value: data,
		Time:  d.now().UTC(),
	}, nil
}

func (d *Dispatcher) write(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := d.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "write %s", msgs[0].Topic)
	}
	return nil
}
