package oms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(nil, nil, nil, zap.NewNop())
}

func limitReq(clientID string, qty, price float64) CreateRequest {
	px := num.FromFloat(price)
	return CreateRequest{
		ClientOrderID: clientID,
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeLimit,
		TimeInForce:   ports.TIFGTC,
		Qty:           num.FromFloat(qty),
		LimitPrice:    &px,
		Venue:         "primary",
		Ts:            1,
	}
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create(CreateRequest{ClientOrderID: "z", Qty: num.Zero})
	require.True(t, trerr.Is(err, trerr.ErrValidation))

	_, err = m.Create(CreateRequest{ClientOrderID: "l", Type: ports.OrderTypeLimit, Qty: num.FromFloat(1)})
	require.True(t, trerr.Is(err, trerr.ErrValidation))

	_, err = m.Create(CreateRequest{ClientOrderID: "s", Type: ports.OrderTypeStop, Qty: num.FromFloat(1)})
	require.True(t, trerr.Is(err, trerr.ErrValidation))

	order, err := m.Create(limitReq("ok", 100, 10))
	require.NoError(t, err)
	assert.Equal(t, StatusNew, order.Status)
	assert.Equal(t, uint64(1), order.Version)
	assert.Equal(t, order.RequestedQty, order.RemainingQty)
}

// Submit then cancel an un-acked order: terminal Cancelled, executed 0.
func TestSubmitThenCancelUnacked(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("c1", 100, 10))
	require.NoError(t, err)

	_, err = m.Submit(order.ID, 2)
	require.NoError(t, err)

	cancelled, err := m.Cancel(order.ID, "client request", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.ExecutedQty.IsZero())
	assert.True(t, cancelled.Status.Terminal())
}

// Submit, fully fill, attempt to cancel: OrderTerminal, order stays Filled.
func TestCancelAfterFullFillFails(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("c2", 100, 10))
	require.NoError(t, err)
	_, err = m.Submit(order.ID, 2)
	require.NoError(t, err)
	_, err = m.Acknowledge(order.ID, 3)
	require.NoError(t, err)

	filled, err := m.ApplyFill(order.ID, Fill{ExecutionID: "e1", Qty: num.FromFloat(60), Price: num.FromFloat(10), Ts: 4})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, filled.Status)

	filled, err = m.ApplyFill(order.ID, Fill{ExecutionID: "e2", Qty: num.FromFloat(40), Price: num.FromFloat(10), Ts: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, filled.Status)

	_, err = m.Cancel(order.ID, "too late", 6)
	require.Error(t, err)
	require.True(t, trerr.Is(err, trerr.ErrCannotCancel) || trerr.Is(err, trerr.ErrOrderTerminal))

	current, ok := m.ByID(order.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFilled, current.Status)
}

// Amend qty upward, then fill to the new qty: Filled with executed=new qty.
func TestAmendUpThenFillToNewQty(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("a1", 100, 10))
	require.NoError(t, err)
	_, err = m.Submit(order.ID, 2)
	require.NoError(t, err)

	newQty := num.FromFloat(150)
	amended, err := m.Amend(order.ID, Amendment{NewQty: &newQty, Reason: "size up", Ts: 3})
	require.NoError(t, err)
	assert.Equal(t, newQty, amended.RequestedQty)
	assert.Equal(t, newQty, amended.RemainingQty)

	filled, err := m.ApplyFill(order.ID, Fill{ExecutionID: "e1", Qty: newQty, Price: num.FromFloat(10), Ts: 4})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, filled.Status)
	assert.Equal(t, newQty, filled.ExecutedQty)
	assert.True(t, filled.RemainingQty.IsZero())
}

func TestAmendBelowExecutedRejected(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("a2", 100, 10))
	require.NoError(t, err)
	_, err = m.Submit(order.ID, 2)
	require.NoError(t, err)
	_, err = m.ApplyFill(order.ID, Fill{ExecutionID: "e1", Qty: num.FromFloat(50), Price: num.FromFloat(10), Ts: 3})
	require.NoError(t, err)

	tooSmall := num.FromFloat(40)
	_, err = m.Amend(order.ID, Amendment{NewQty: &tooSmall, Ts: 4})
	require.True(t, trerr.Is(err, trerr.ErrCannotAmend))
}

func TestFillBeyondRemainingRejected(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("f1", 100, 10))
	require.NoError(t, err)

	_, err = m.ApplyFill(order.ID, Fill{ExecutionID: "e1", Qty: num.FromFloat(101), Price: num.FromFloat(10), Ts: 2})
	require.True(t, trerr.Is(err, trerr.ErrValidation))

	current, ok := m.ByID(order.ID)
	require.True(t, ok)
	assert.True(t, current.ExecutedQty.IsZero())
	assert.Empty(t, current.Fills)
}

// A fill whose qty equals remaining yields Filled, never PartiallyFilled.
func TestExactFillIsFilledNotPartial(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("f2", 100, 10))
	require.NoError(t, err)

	filled, err := m.ApplyFill(order.ID, Fill{ExecutionID: "e1", Qty: num.FromFloat(100), Price: num.FromFloat(10), Ts: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, filled.Status)
}

func TestVersionStrictlyIncreases(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("v1", 100, 10))
	require.NoError(t, err)

	versions := []uint64{order.Version}
	o, err := m.Submit(order.ID, 2)
	require.NoError(t, err)
	versions = append(versions, o.Version)

	newQty := num.FromFloat(120)
	o, err = m.Amend(order.ID, Amendment{NewQty: &newQty, Ts: 3})
	require.NoError(t, err)
	versions = append(versions, o.Version)

	o, err = m.ApplyFill(order.ID, Fill{ExecutionID: "e1", Qty: num.FromFloat(10), Price: num.FromFloat(10), Ts: 4})
	require.NoError(t, err)
	versions = append(versions, o.Version)

	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

// Parent completes only when every child is terminal and the executed
// sum matches the parent's requested qty.
func TestParentCompletesFromChildren(t *testing.T) {
	m := newTestManager(t)
	parent, err := m.Create(limitReq("p1", 100, 10))
	require.NoError(t, err)
	_, err = m.Submit(parent.ID, 1)
	require.NoError(t, err)

	mkChild := func(clientID string, qty float64) Order {
		req := limitReq(clientID, qty, 10)
		req.ParentOrderID = parent.ID
		child, err := m.Create(req)
		require.NoError(t, err)
		return child
	}
	c1 := mkChild("p1-c1", 60)
	c2 := mkChild("p1-c2", 40)

	children := m.ChildrenOf(parent.ID)
	require.Len(t, children, 2)

	_, err = m.ApplyFill(c1.ID, Fill{ExecutionID: "e1", Qty: num.FromFloat(60), Price: num.FromFloat(10), Ts: 2})
	require.NoError(t, err)

	// One child still live: parent untouched.
	p, _ := m.ByID(parent.ID)
	assert.NotEqual(t, StatusFilled, p.Status)

	_, err = m.ApplyFill(c2.ID, Fill{ExecutionID: "e2", Qty: num.FromFloat(40), Price: num.FromFloat(10), Ts: 3})
	require.NoError(t, err)

	p, _ = m.ByID(parent.ID)
	assert.Equal(t, StatusFilled, p.Status)
	assert.Equal(t, num.FromFloat(100), p.ExecutedQty)
}

func TestAcknowledgeRecordsVenueOrderID(t *testing.T) {
	m := newTestManager(t)
	order, err := m.Create(limitReq("vid1", 100, 10))
	require.NoError(t, err)
	_, err = m.Submit(order.ID, 2)
	require.NoError(t, err)

	acked, err := m.AcknowledgeWithVenueID(order.ID, "EX-42", 3)
	require.NoError(t, err)
	assert.Equal(t, "EX-42", acked.VenueOrderID)

	byVenue, ok := m.ByVenueOrderID("EX-42")
	require.True(t, ok)
	assert.Equal(t, order.ID, byVenue.ID)

	_, ok = m.ByVenueOrderID("")
	assert.False(t, ok)
	_, ok = m.ByVenueOrderID("EX-unknown")
	assert.False(t, ok)
}

func TestPurgeTerminalRespectsCutoffAndStatus(t *testing.T) {
	m := newTestManager(t)

	done, err := m.Create(limitReq("old-done", 10, 10))
	require.NoError(t, err)
	_, err = m.Cancel(done.ID, "done", 5)
	require.NoError(t, err)

	live, err := m.Create(limitReq("old-live", 10, 10))
	require.NoError(t, err)

	recent, err := m.Create(limitReq("new-done", 10, 10))
	require.NoError(t, err)
	_, err = m.Cancel(recent.ID, "done", 100)
	require.NoError(t, err)

	purged := m.PurgeTerminal(50)
	assert.Equal(t, 1, purged)

	_, ok := m.ByID(done.ID)
	assert.False(t, ok, "old terminal order must be purged")
	_, ok = m.ByID(live.ID)
	assert.True(t, ok, "live order survives regardless of age")
	_, ok = m.ByID(recent.ID)
	assert.True(t, ok, "terminal order inside retention survives")
}

func TestQueries(t *testing.T) {
	m := newTestManager(t)
	o1, err := m.Create(limitReq("q1", 10, 10))
	require.NoError(t, err)
	req := limitReq("q2", 20, 10)
	req.Symbol = 2
	_, err = m.Create(req)
	require.NoError(t, err)

	byClient, ok := m.ByClientID("q1")
	require.True(t, ok)
	assert.Equal(t, o1.ID, byClient.ID)

	assert.Len(t, m.ByStatus(StatusNew), 2)
	assert.Len(t, m.BySymbol(2), 1)
	assert.Len(t, m.Orders(), 2)
}
