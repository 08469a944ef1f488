package app

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/book"
	"github.com/shrivenq/tradecore/internal/feed"
	"github.com/shrivenq/tradecore/internal/metrics"
	"github.com/shrivenq/tradecore/internal/position"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// Books owns one order book per symbol, created lazily on first update
// with the ROI band centered on that update's price. It glues the feed
// to the book engine and the position tracker: every accepted update
// re-marks the symbol's position from the fresh BBO, and trades mark
// the last traded price (spec §2 data flow: feed → books and → tracker
// for mark-to-market).
type Books struct {
	logger  *zap.Logger
	tracker *position.Tracker
	metrics *metrics.Metrics

	tickSize      num.Price
	lotSize       num.Qty
	roiWidthTicks int64
	crossPolicy   book.CrossPolicy

	mu    sync.RWMutex
	books map[num.Symbol]*book.Book

	tradeObs TradeObserver
}

// TradeObserver receives per-symbol traded volume; the algo driver
// consumes it for VWAP participation sizing.
type TradeObserver interface {
	OnMarketVolume(symbol num.Symbol, volume num.Qty)
}

// SetTradeObserver registers obs; call before feeds start.
func (b *Books) SetTradeObserver(obs TradeObserver) { b.tradeObs = obs }

// BooksConfig carries the per-book construction parameters from the
// `lob.*` configuration keys.
type BooksConfig struct {
	TickSize      num.Price
	LotSize       num.Qty
	ROIWidthTicks int64
	CrossPolicy   book.CrossPolicy
}

// NewBooks builds an empty registry.
func NewBooks(cfg BooksConfig, tracker *position.Tracker, m *metrics.Metrics, logger *zap.Logger) *Books {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TickSize.IsZero() {
		cfg.TickSize = num.FromFloat(0.01)
	}
	if cfg.LotSize.IsZero() {
		cfg.LotSize = num.FromFloat(1)
	}
	return &Books{
		logger:        logger,
		tracker:       tracker,
		metrics:       m,
		tickSize:      cfg.TickSize,
		lotSize:       cfg.LotSize,
		roiWidthTicks: cfg.ROIWidthTicks,
		crossPolicy:   cfg.CrossPolicy,
		books:         make(map[num.Symbol]*book.Book),
	}
}

// Get returns the book for symbol, nil if no update has arrived yet.
func (b *Books) Get(symbol num.Symbol) *book.Book {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.books[symbol]
}

func (b *Books) bookFor(symbol num.Symbol, center num.Price) *book.Book {
	b.mu.RLock()
	bk, ok := b.books[symbol]
	b.mu.RUnlock()
	if ok {
		return bk
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bk, ok = b.books[symbol]; ok {
		return bk
	}
	bk = book.New(book.Config{
		Symbol:        symbol,
		TickSize:      b.tickSize,
		LotSize:       b.lotSize,
		CrossPolicy:   b.crossPolicy,
		ROIWidthTicks: b.roiWidthTicks,
		ROICenter:     center,
	}, b.logger)
	b.books[symbol] = bk
	return bk
}

// SinkFor binds symbol to a feed.Sink feeding this registry; the
// normalizer runs one per subscribed symbol.
func (b *Books) SinkFor(symbol num.Symbol, resync func(feed.ResyncRequired)) feed.Sink {
	return &boundSink{books: b, symbol: symbol, resync: resync}
}

type boundSink struct {
	books  *Books
	symbol num.Symbol
	resync func(feed.ResyncRequired)
}

func (s *boundSink) OnL2Update(u book.L2Update) {
	b := s.books
	bk := b.bookFor(s.symbol, u.Price)
	start := time.Now()
	err := bk.ApplyUpdate(u)
	if b.metrics != nil {
		b.metrics.BookUpdateSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if b.metrics != nil {
			b.metrics.BookUpdates.WithLabelValues("rejected").Inc()
		}
		b.logger.Debug("book update rejected", zap.Uint32("symbol", uint32(s.symbol)), zap.Error(err))
		return
	}
	if b.metrics != nil {
		b.metrics.BookUpdates.WithLabelValues("applied").Inc()
	}

	bid, bidOK, ask, askOK := bk.BBO()
	if bidOK && askOK {
		b.tracker.Mark(s.symbol, bid.Price, ask.Price, u.Ts)
	}
}

func (s *boundSink) OnTrade(t ports.Trade) {
	s.books.tracker.MarkTrade(s.symbol, t.Price, t.Ts)
	if s.books.tradeObs != nil {
		s.books.tradeObs.OnMarketVolume(s.symbol, t.Qty)
	}
}

func (s *boundSink) OnResyncRequired(r feed.ResyncRequired) {
	if s.resync != nil {
		s.resync(r)
	}
}
