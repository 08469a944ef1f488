package feed

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shrivenq/tradecore/internal/book"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// event is the union of what flows from the normalizer to the books.
type event struct {
	l2     *book.L2Update
	trade  *ports.Trade
	resync *ResyncRequired
}

// DropCounter observes updates discarded under backpressure;
// internal/metrics' FeedDrops counter satisfies it.
type DropCounter interface {
	Inc()
}

// Ingress decouples the normalizer from the book writer with a bounded
// queue using the drop-oldest policy of spec §5: under overflow the
// stalest market state is discarded in favor of fresher updates.
// Resync requests ride the same queue under the same policy. An
// optional token bucket paces delivery to the downstream sink.
type Ingress struct {
	logger  *zap.Logger
	sink    Sink
	queue   chan event
	limiter *rate.Limiter
	drops   DropCounter
}

// IngressConfig sizes the queue and optional pacing.
type IngressConfig struct {
	QueueSize    int
	MaxPerSecond int // 0 disables pacing
	Burst        int
}

// NewIngress wraps sink behind a bounded, drop-oldest queue.
func NewIngress(cfg IngressConfig, sink Sink, drops DropCounter, logger *zap.Logger) *Ingress {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	var limiter *rate.Limiter
	if cfg.MaxPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.MaxPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst)
	}
	return &Ingress{
		logger:  logger,
		sink:    sink,
		queue:   make(chan event, cfg.QueueSize),
		limiter: limiter,
		drops:   drops,
	}
}

// OnL2Update implements Sink; called by the normalizer.
func (i *Ingress) OnL2Update(u book.L2Update) { i.enqueue(event{l2: &u}) }

// OnTrade implements Sink.
func (i *Ingress) OnTrade(t ports.Trade) { i.enqueue(event{trade: &t}) }

// OnResyncRequired implements Sink.
func (i *Ingress) OnResyncRequired(r ResyncRequired) { i.enqueue(event{resync: &r}) }

// enqueue applies drop-oldest: when the queue is full the head is
// discarded to make room, preferring fresher market state to stale
// completeness.
func (i *Ingress) enqueue(e event) {
	for {
		select {
		case i.queue <- e:
			return
		default:
		}
		select {
		case <-i.queue:
			if i.drops != nil {
				i.drops.Inc()
			}
		default:
		}
	}
}

// Run drains the queue into the wrapped sink until ctx is done. It is
// the single consumer, so downstream book writes stay single-writer.
func (i *Ingress) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-i.queue:
			if i.limiter != nil {
				if err := i.limiter.Wait(ctx); err != nil {
					return
				}
			}
			switch {
			case e.l2 != nil:
				i.sink.OnL2Update(*e.l2)
			case e.trade != nil:
				i.sink.OnTrade(*e.trade)
			case e.resync != nil:
				i.sink.OnResyncRequired(*e.resync)
			}
		}
	}
}
