package algo

// nextIceberg implements spec §4.F "Iceberg": always emits children of
// size min(D, remaining); never more than one outstanding child at a
// time; a full fill triggers a refresh to the next slice, a partial
// fill only decrements the current display (handled in OnFill).
func (e *Engine) nextIceberg(ctx Context) (ChildOrderSpec, bool) {
	if e.outstanding {
		return ChildOrderSpec{}, false
	}
	display := e.Params.DisplayQty
	if display.IsZero() || display.GreaterThan(e.Remaining()) {
		display = e.Remaining()
	}
	if display.IsZero() {
		return ChildOrderSpec{}, false
	}
	e.outstanding = true
	e.currentDisplay = display
	return e.buildSpec(display), true
}
