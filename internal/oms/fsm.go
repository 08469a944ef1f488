package oms

// transitions enumerates the legal Status edges of spec §4.E's state
// machine. Manager.transition rejects an edge not present here;
// Manager.ApplyFill does not consult this table and moves any
// non-terminal order to PartiallyFilled or Filled.
var transitions = map[Status]map[Status]bool{
	StatusNew: {
		StatusPending:    true,
		StatusRejected:   true,
		StatusCancelled:  true,
	},
	StatusPending: {
		StatusAcknowledged: true,
		// A fill report can race the venue ack, and a parent order whose
		// children complete is filled without ever being acknowledged by
		// a venue itself.
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusRejected:        true,
		StatusCancelled:       true,
		StatusExpired:         true,
	},
	StatusAcknowledged: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusRejected:        true, // venue-side rejection after ack
		StatusExpired:         true,
	},
	StatusPartiallyFilled: {
		StatusAcknowledged:    true, // amendment may reopen to acknowledged bookkeeping
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusExpired:         true,
	},
}

// canTransition reports whether from -> to is a legal edge, per spec
// §4.E: terminal states accept no further transitions, and monotone
// progress is otherwise enforced by this table.
func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
