package oms

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/pkg/num"
)

// Event topics for the five kinds named in spec §6 "OMS event stream".
const (
	TopicOrderCreated      = "oms.order_created"
	TopicOrderStatusChange = "oms.order_status_changed"
	TopicOrderFilled       = "oms.order_filled"
	TopicOrderAmended      = "oms.order_amended"
	TopicOrderCancelled    = "oms.order_cancelled"
)

// OrderStatusChangedEvent is the payload published on TopicOrderStatusChange.
type OrderStatusChangedEvent struct {
	OrderID uint64
	Old     Status
	New     Status
	Ts      num.Timestamp
}

// OrderFilledEvent is the payload published on TopicOrderFilled.
type OrderFilledEvent struct {
	OrderID uint64
	Fill    Fill
}

// OrderAmendedEvent is the payload published on TopicOrderAmended.
type OrderAmendedEvent struct {
	OrderID   uint64
	Amendment Amendment
}

// OrderCancelledEvent is the payload published on TopicOrderCancelled.
type OrderCancelledEvent struct {
	OrderID uint64
	Reason  string
}

// WatermillPublisher implements EventPublisher over a watermill
// message.Publisher, per SPEC_FULL §4.E: in-process gochannel by
// default, NATS-backed when a watermill-nats publisher is supplied
// instead. Subscribers on a full buffered channel drop messages per
// spec §6 ("missed events on a slow subscriber are dropped") — that
// drop behavior lives in the Publisher implementation the caller
// constructs (gochannel.Config.OutputChannelBuffer), not here.
type WatermillPublisher struct {
	pub    message.Publisher
	logger *zap.Logger
}

// NewWatermillPublisher wraps pub as an oms.EventPublisher.
func NewWatermillPublisher(pub message.Publisher, logger *zap.Logger) *WatermillPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatermillPublisher{pub: pub, logger: logger}
}

func (p *WatermillPublisher) publish(topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("oms: failed to marshal event", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.NewString(), body)
	if err := p.pub.Publish(topic, msg); err != nil {
		p.logger.Warn("oms: failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func (p *WatermillPublisher) PublishOrderCreated(o Order) {
	p.publish(TopicOrderCreated, o)
}

func (p *WatermillPublisher) PublishStatusChanged(id uint64, old, new Status, ts num.Timestamp) {
	p.publish(TopicOrderStatusChange, OrderStatusChangedEvent{OrderID: id, Old: old, New: new, Ts: ts})
}

func (p *WatermillPublisher) PublishFilled(id uint64, fill Fill) {
	p.publish(TopicOrderFilled, OrderFilledEvent{OrderID: id, Fill: fill})
}

func (p *WatermillPublisher) PublishAmended(id uint64, amendment Amendment) {
	p.publish(TopicOrderAmended, OrderAmendedEvent{OrderID: id, Amendment: amendment})
}

func (p *WatermillPublisher) PublishCancelled(id uint64, reason string) {
	p.publish(TopicOrderCancelled, OrderCancelledEvent{OrderID: id, Reason: reason})
}
