package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/algo"
	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/internal/router"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// algoAccount is the account child slices are submitted under.
const algoAccount = "algo-engine"

// childSubmitter adapts the execution router to algo.ChildSubmitter:
// each emitted slice becomes a child order carrying the parent's id,
// routed through the full risk-gated submit path like any other order.
type childSubmitter struct {
	rtr *router.Router
}

func (s *childSubmitter) SubmitChild(ctx context.Context, parent algo.ParentRef, spec algo.ChildOrderSpec) (uint64, error) {
	req := router.SubmitRequest{
		Account:       algoAccount,
		ClientOrderID: "algo-" + ksuid.New().String(),
		ParentOrderID: parent.OrderID,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          ports.OrderTypeMarket,
		TimeInForce:   spec.TimeInForce,
		Qty:           spec.Qty,
		Ts:            num.Timestamp(nowNanos()),
	}
	if spec.Price != nil {
		req.Type = ports.OrderTypeLimit
		req.LimitPrice = spec.Price
	}
	order, err := s.rtr.Submit(ctx, req)
	if err != nil {
		return 0, err
	}
	return order.ID, nil
}

func nowNanos() int64 { return time.Now().UnixNano() }

// NewAlgoDriver builds the slicer driver over the router.
func NewAlgoDriver(rtr *router.Router, logger *zap.Logger) *algo.Driver {
	return algo.NewDriver(&childSubmitter{rtr: rtr}, logger)
}

// runFillForwarder subscribes to the OMS fill topic and forwards child
// fills to their parent's engine, closing the E → F feedback loop of
// spec §2's data flow. Only possible on transports that subscribe
// in-process (the gochannel bus); with a NATS publisher the embedding
// process runs its own subscriber.
func runFillForwarder(ctx context.Context, pub message.Publisher, mgr *oms.Manager, driver *algo.Driver, logger *zap.Logger) {
	sub, ok := pub.(message.Subscriber)
	if !ok {
		logger.Info("event transport is publish-only; algo fill forwarding left to the embedder")
		return
	}
	msgs, err := sub.Subscribe(ctx, oms.TopicOrderFilled)
	if err != nil {
		logger.Error("could not subscribe to fill events", zap.Error(err))
		return
	}
	go func() {
		for msg := range msgs {
			var ev oms.OrderFilledEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Ack()
				continue
			}
			if order, ok := mgr.ByID(ev.OrderID); ok && order.ParentOrderID != 0 {
				driver.OnChildFill(order.ParentOrderID, ev.Fill.Qty)
			}
			msg.Ack()
		}
	}()
}
