package oms

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/oms/wal"
	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// PositionApplier is the narrow slice of position.Tracker the OMS
// needs to forward fills to, per spec §4.E "apply_fill ... forwards to
// position tracker". Declared here rather than importing
// internal/position directly so the OMS never depends on the tracker's
// full surface.
type PositionApplier interface {
	ApplyFill(symbol num.Symbol, side ports.Side, qty num.Qty, price num.Price, ts num.Timestamp)
}

// orderEntry is the Manager's in-memory record: the order itself plus
// the lock that is the sole linearization point for its mutations,
// per spec §5 "each order's mutable state is guarded by an exclusive
// lock taken only for the duration of a mutation".
type orderEntry struct {
	mu    sync.Mutex
	order Order
}

// Manager owns the order lifecycle FSM, the parent/child graph, and
// the durable log, per spec §4.E. It never awaits anything while
// holding an order's lock (spec §5 "Suspension points").
type Manager struct {
	logger *zap.Logger

	log      *wal.Writer
	events   EventPublisher
	position PositionApplier

	nextID uint64 // atomic

	mu         sync.RWMutex
	byID       map[uint64]*orderEntry
	byClientID map[string]uint64
	byVenueID  map[string]uint64
	childrenOf map[uint64]map[uint64]struct{}
}

// EventPublisher is the narrow publish surface the OMS needs for its
// event stream (spec §6 "OMS event stream"); internal/oms/events.go
// provides a watermill-backed implementation.
type EventPublisher interface {
	PublishOrderCreated(Order)
	PublishStatusChanged(id uint64, old, new Status, ts num.Timestamp)
	PublishFilled(id uint64, fill Fill)
	PublishAmended(id uint64, amendment Amendment)
	PublishCancelled(id uint64, reason string)
}

// New constructs a Manager around an already-opened durable log.
// Recovery (if any) must be run separately via Recover before the
// Manager is exposed to callers.
func New(log *wal.Writer, events EventPublisher, position PositionApplier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &Manager{
		logger:     logger,
		log:        log,
		events:     events,
		position:   position,
		byID:       make(map[uint64]*orderEntry),
		byClientID: make(map[string]uint64),
		byVenueID:  make(map[string]uint64),
		childrenOf: make(map[uint64]map[uint64]struct{}),
	}
}

// AttachLog wires an active wal.Writer into a Manager built by
// Recover, so subsequent live mutations resume appending to the
// durable log that replay was read from.
func (m *Manager) AttachLog(w *wal.Writer) { m.log = w }

// Create validates and persists a new order in StatusNew, per spec
// §4.E "create(request)".
func (m *Manager) Create(req CreateRequest) (Order, error) {
	if req.Qty.IsZero() || req.Qty.Sign() < 0 {
		return Order{}, trerr.New(trerr.ErrValidation, "order quantity must be positive")
	}
	if req.Type == ports.OrderTypeLimit && req.LimitPrice == nil {
		return Order{}, trerr.New(trerr.ErrValidation, "limit orders require a limit price")
	}
	if (req.Type == ports.OrderTypeStop || req.Type == ports.OrderTypeStopLimit) && req.StopPrice == nil {
		return Order{}, trerr.New(trerr.ErrValidation, "stop orders require a stop price")
	}

	id := atomic.AddUint64(&m.nextID, 1)
	order := Order{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		ParentOrderID: req.ParentOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		RequestedQty:  req.Qty,
		RemainingQty:  req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Status:        StatusNew,
		Venue:         req.Venue,
		StrategyID:    req.StrategyID,
		CreatedTs:     req.Ts,
		UpdatedTs:     req.Ts,
		Version:       1,
	}

	if err := m.appendRecord(wal.RecordCreate, order.ID, order.Version, order); err != nil {
		return Order{}, err
	}

	m.mu.Lock()
	m.byID[id] = &orderEntry{order: order}
	if order.ClientOrderID != "" {
		m.byClientID[order.ClientOrderID] = id
	}
	if order.ParentOrderID != 0 {
		set, ok := m.childrenOf[order.ParentOrderID]
		if !ok {
			set = make(map[uint64]struct{})
			m.childrenOf[order.ParentOrderID] = set
		}
		set[id] = struct{}{}
	}
	m.mu.Unlock()

	m.events.PublishOrderCreated(order)
	return order, nil
}

// transition applies a status change, enforcing the FSM, bumping the
// version, and appending a durable record before returning, per spec
// §4.E. f is invoked with the entry's lock held and must not block.
func (m *Manager) transition(id uint64, to Status, ts num.Timestamp, kind wal.RecordKind, f func(o *Order) error) (Order, error) {
	e, ok := m.entry(id)
	if !ok {
		return Order{}, trerr.Newf(trerr.ErrOrderNotFound, "order %d not found", id)
	}

	e.mu.Lock()
	if e.order.Status.Terminal() {
		e.mu.Unlock()
		return Order{}, trerr.Newf(trerr.ErrOrderTerminal, "order %d is terminal (%s)", id, e.order.Status)
	}
	old := e.order.Status
	if to != old && !canTransition(old, to) {
		e.mu.Unlock()
		return Order{}, trerr.Newf(trerr.ErrCannotAmend, "illegal transition %s -> %s for order %d", old, to, id)
	}
	if f != nil {
		if err := f(&e.order); err != nil {
			e.mu.Unlock()
			return Order{}, err
		}
	}
	e.order.Status = to
	e.order.UpdatedTs = ts
	e.order.Version++
	snapshot := e.order
	e.mu.Unlock()

	if err := m.appendRecord(kind, id, snapshot.Version, snapshot); err != nil {
		return Order{}, err
	}
	if old != to {
		m.events.PublishStatusChanged(id, old, to, ts)
	}
	return snapshot, nil
}

// Submit transitions New -> Pending, handing the order off to the
// router (spec §4.E "submit(id)").
func (m *Manager) Submit(id uint64, ts num.Timestamp) (Order, error) {
	return m.transition(id, StatusPending, ts, wal.RecordStatusChange, nil)
}

// Acknowledge transitions Pending -> Acknowledged, called by the
// router once a venue accepts the order.
func (m *Manager) Acknowledge(id uint64, ts num.Timestamp) (Order, error) {
	return m.transition(id, StatusAcknowledged, ts, wal.RecordStatusChange, nil)
}

// AcknowledgeWithVenueID is Acknowledge plus recording the venue's own
// order id, so subsequent execution reports can be matched by venue
// order id first (spec §4.G "Execution report correlation").
func (m *Manager) AcknowledgeWithVenueID(id uint64, venueOrderID string, ts num.Timestamp) (Order, error) {
	snapshot, err := m.transition(id, StatusAcknowledged, ts, wal.RecordStatusChange, func(o *Order) error {
		o.VenueOrderID = venueOrderID
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if venueOrderID != "" {
		m.mu.Lock()
		m.byVenueID[venueOrderID] = id
		m.mu.Unlock()
	}
	return snapshot, nil
}

// ApplyFill validates fill.Qty <= remaining, appends the fill, updates
// executed/remaining, and transitions to PartiallyFilled or Filled,
// per spec §4.E "apply_fill". The position tracker is notified after
// the durable append succeeds.
func (m *Manager) ApplyFill(id uint64, fill Fill) (Order, error) {
	e, ok := m.entry(id)
	if !ok {
		return Order{}, trerr.Newf(trerr.ErrOrderNotFound, "order %d not found", id)
	}

	e.mu.Lock()
	if e.order.Status.Terminal() {
		e.mu.Unlock()
		return Order{}, trerr.Newf(trerr.ErrOrderTerminal, "order %d is terminal", id)
	}
	if fill.Qty.GreaterThan(e.order.RemainingQty) {
		e.mu.Unlock()
		return Order{}, trerr.Newf(trerr.ErrValidation, "fill qty %s exceeds remaining %s for order %d", fill.Qty, e.order.RemainingQty, id)
	}
	e.order.Fills = append(e.order.Fills, fill)
	e.order.ExecutedQty = e.order.ExecutedQty.Add(fill.Qty)
	e.order.RemainingQty = e.order.RemainingQty.Sub(fill.Qty)
	old := e.order.Status
	newStatus := StatusPartiallyFilled
	if e.order.RemainingQty.IsZero() {
		newStatus = StatusFilled
	}
	e.order.Status = newStatus
	e.order.UpdatedTs = fill.Ts
	e.order.Version++
	snapshot := e.order
	e.mu.Unlock()

	if err := m.appendRecord(wal.RecordFill, id, snapshot.Version, fillRecord{OrderID: id, Fill: fill}); err != nil {
		return Order{}, err
	}
	if old != newStatus {
		m.events.PublishStatusChanged(id, old, newStatus, fill.Ts)
	}
	m.events.PublishFilled(id, fill)

	if m.position != nil {
		m.position.ApplyFill(snapshot.Symbol, snapshot.Side, fill.Qty, fill.Price, fill.Ts)
	}
	if snapshot.ParentOrderID != 0 {
		m.maybeCompleteParent(snapshot.ParentOrderID, fill.Ts)
	}
	return snapshot, nil
}

// maybeCompleteParent transitions a parent to Filled once every child
// is terminal and Sigma child.executed == parent.requested, per spec
// §4.E "Parent/child".
func (m *Manager) maybeCompleteParent(parentID uint64, ts num.Timestamp) {
	children := m.ChildrenOf(parentID)
	if len(children) == 0 {
		return
	}
	var executed num.Qty
	for _, c := range children {
		if !c.Status.Terminal() {
			return
		}
		executed = executed.Add(c.ExecutedQty)
	}
	parent, ok := m.entry(parentID)
	if !ok {
		return
	}
	parent.mu.Lock()
	alreadyTerminal := parent.order.Status.Terminal()
	requested := parent.order.RequestedQty
	parent.mu.Unlock()
	if alreadyTerminal || executed != requested {
		return
	}
	_, _ = m.transition(parentID, StatusFilled, ts, wal.RecordStatusChange, func(o *Order) error {
		o.ExecutedQty = executed
		o.RemainingQty = o.RequestedQty.Sub(executed)
		return nil
	})
}

// Amend applies an amendment, rejecting on a terminal order or a new
// qty below already-executed qty, per spec §4.E "amend".
func (m *Manager) Amend(id uint64, amendment Amendment) (Order, error) {
	e, ok := m.entry(id)
	if !ok {
		return Order{}, trerr.Newf(trerr.ErrOrderNotFound, "order %d not found", id)
	}

	e.mu.Lock()
	if e.order.Status.Terminal() {
		e.mu.Unlock()
		return Order{}, trerr.Newf(trerr.ErrCannotAmend, "order %d is terminal", id)
	}
	if amendment.NewQty != nil && amendment.NewQty.LessThan(e.order.ExecutedQty) {
		e.mu.Unlock()
		return Order{}, trerr.Newf(trerr.ErrCannotAmend, "new qty %s below executed %s for order %d", *amendment.NewQty, e.order.ExecutedQty, id)
	}
	if amendment.NewQty != nil {
		e.order.RequestedQty = *amendment.NewQty
		e.order.RemainingQty = amendment.NewQty.Sub(e.order.ExecutedQty)
	}
	if amendment.NewPrice != nil {
		e.order.LimitPrice = amendment.NewPrice
	}
	e.order.Amendments = append(e.order.Amendments, amendment)
	e.order.UpdatedTs = amendment.Ts
	e.order.Version++
	snapshot := e.order
	e.mu.Unlock()

	if err := m.appendRecord(wal.RecordAmendment, id, snapshot.Version, amendmentRecord{OrderID: id, Amendment: amendment}); err != nil {
		return Order{}, err
	}
	m.events.PublishAmended(id, amendment)
	return snapshot, nil
}

// Cancel marks the order Cancelled, rejecting if it is already
// terminal, per spec §4.E "cancel".
func (m *Manager) Cancel(id uint64, reason string, ts num.Timestamp) (Order, error) {
	snapshot, err := m.transition(id, StatusCancelled, ts, wal.RecordStatusChange, nil)
	if err != nil {
		if trerr.Is(err, trerr.ErrCannotAmend) {
			return Order{}, trerr.Newf(trerr.ErrCannotCancel, "order %d cannot be cancelled", id)
		}
		return Order{}, err
	}
	m.events.PublishCancelled(id, reason)
	return snapshot, nil
}

// Reject marks the order Rejected (router use, on venue dispatch failure).
func (m *Manager) Reject(id uint64, reason string, ts num.Timestamp) (Order, error) {
	snapshot, err := m.transition(id, StatusRejected, ts, wal.RecordStatusChange, nil)
	if err != nil {
		return Order{}, err
	}
	m.events.PublishCancelled(id, reason) // reuses the cancellation topic; reason distinguishes it
	return snapshot, nil
}

// Expire marks the order Expired on TIF expiry.
func (m *Manager) Expire(id uint64, ts num.Timestamp) (Order, error) {
	return m.transition(id, StatusExpired, ts, wal.RecordStatusChange, nil)
}

func (m *Manager) entry(id uint64) (*orderEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	return e, ok
}

// ByID returns a snapshot of the order, per spec §4.E "Queries".
func (m *Manager) ByID(id uint64) (Order, bool) {
	e, ok := m.entry(id)
	if !ok {
		return Order{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order, true
}

// ByClientID resolves a client-assigned id to the current order snapshot.
func (m *Manager) ByClientID(clientID string) (Order, bool) {
	m.mu.RLock()
	id, ok := m.byClientID[clientID]
	m.mu.RUnlock()
	if !ok {
		return Order{}, false
	}
	return m.ByID(id)
}

// ByVenueOrderID resolves a venue-assigned order id recorded at
// acknowledgement time.
func (m *Manager) ByVenueOrderID(venueOrderID string) (Order, bool) {
	if venueOrderID == "" {
		return Order{}, false
	}
	m.mu.RLock()
	id, ok := m.byVenueID[venueOrderID]
	m.mu.RUnlock()
	if !ok {
		return Order{}, false
	}
	return m.ByID(id)
}

// ByStatus returns every order currently in status.
func (m *Manager) ByStatus(status Status) []Order {
	return m.filter(func(o Order) bool { return o.Status == status })
}

// BySymbol returns every order for symbol.
func (m *Manager) BySymbol(symbol num.Symbol) []Order {
	return m.filter(func(o Order) bool { return o.Symbol == symbol })
}

func (m *Manager) filter(pred func(Order) bool) []Order {
	m.mu.RLock()
	entries := make([]*orderEntry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []Order
	for _, e := range entries {
		e.mu.Lock()
		o := e.order
		e.mu.Unlock()
		if pred(o) {
			out = append(out, o)
		}
	}
	return out
}

// Orders returns a snapshot of every order the Manager holds; the
// reconciler walks this for its cross-component invariant checks.
func (m *Manager) Orders() []Order {
	return m.filter(func(Order) bool { return true })
}

// PurgeTerminal drops terminal orders whose last update precedes
// cutoff from the in-memory indexes, the compaction side of spec §6
// `oms.retention_days`. The durable log keeps their history; purging
// only bounds resident state. Returns how many orders were removed.
func (m *Manager) PurgeTerminal(cutoff num.Timestamp) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int
	for id, e := range m.byID {
		e.mu.Lock()
		o := e.order
		e.mu.Unlock()
		if !o.Status.Terminal() || !o.UpdatedTs.Before(cutoff) {
			continue
		}
		delete(m.byID, id)
		if o.ClientOrderID != "" {
			delete(m.byClientID, o.ClientOrderID)
		}
		if o.VenueOrderID != "" {
			delete(m.byVenueID, o.VenueOrderID)
		}
		if o.ParentOrderID != 0 {
			if set, ok := m.childrenOf[o.ParentOrderID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(m.childrenOf, o.ParentOrderID)
				}
			}
		}
		delete(m.childrenOf, id)
		purged++
	}
	return purged
}

// RepairQuantities recomputes executed qty from the fill ledger and
// remaining from requested, the repair the reconciler applies when
// auto-repair is enabled. A no-op when the quantities already agree.
func (m *Manager) RepairQuantities(id uint64, ts num.Timestamp) (Order, error) {
	e, ok := m.entry(id)
	if !ok {
		return Order{}, trerr.Newf(trerr.ErrOrderNotFound, "order %d not found", id)
	}

	e.mu.Lock()
	var fillSum num.Qty
	for _, f := range e.order.Fills {
		fillSum = fillSum.Add(f.Qty)
	}
	if fillSum == e.order.ExecutedQty && e.order.ExecutedQty.Add(e.order.RemainingQty) == e.order.RequestedQty {
		snapshot := e.order
		e.mu.Unlock()
		return snapshot, nil
	}
	e.order.ExecutedQty = fillSum
	e.order.RemainingQty = e.order.RequestedQty.Sub(fillSum)
	e.order.UpdatedTs = ts
	e.order.Version++
	snapshot := e.order
	e.mu.Unlock()

	if err := m.appendRecord(wal.RecordStatusChange, id, snapshot.Version, snapshot); err != nil {
		return Order{}, err
	}
	return snapshot, nil
}

// ChildrenOf returns the current snapshot of every child of parentID,
// per spec §4.E / §9 "parent_id -> set<child_id> index".
func (m *Manager) ChildrenOf(parentID uint64) []Order {
	m.mu.RLock()
	ids := make([]uint64, 0, len(m.childrenOf[parentID]))
	for id := range m.childrenOf[parentID] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.ByID(id); ok {
			out = append(out, o)
		}
	}
	return out
}

// appendRecord gob-encodes payload and appends it to the durable log.
// Per spec §7 "LogIOError", a failed append means the operation fails
// closed: the in-memory mutation above has already happened for the
// caller's entry lock scope, but the record was serialized before the
// lock was released, so on a genuine I/O error here the caller must
// treat the whole operation as failed — this Manager surfaces the
// error rather than hiding it, and a degraded-mode caller (main.go)
// should stop accepting new mutations until the log recovers.
func (m *Manager) appendRecord(kind wal.RecordKind, orderID uint64, version uint64, payload any) error {
	if m.log == nil {
		// In-memory mode: tests and read-only replicas run without a log.
		return nil
	}
	body, err := wal.Encode(payload)
	if err != nil {
		return trerr.Wrap(err, trerr.ErrLogIO, "encoding wal payload")
	}
	if err := m.log.Append(wal.Record{Kind: kind, OrderID: orderID, Version: version, Payload: body}); err != nil {
		return trerr.Wrap(err, trerr.ErrLogIO, "appending wal record")
	}
	return nil
}

type fillRecord struct {
	OrderID uint64
	Fill    Fill
}

type amendmentRecord struct {
	OrderID   uint64
	Amendment Amendment
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(Order)                                    {}
func (noopPublisher) PublishStatusChanged(id uint64, old, new Status, ts num.Timestamp) {}
func (noopPublisher) PublishFilled(id uint64, fill Fill)                           {}
func (noopPublisher) PublishAmended(id uint64, amendment Amendment)                {}
func (noopPublisher) PublishCancelled(id uint64, reason string)                    {}
