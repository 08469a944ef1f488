package algo

import "github.com/shrivenq/tradecore/pkg/num"

// nextTWAP implements spec §4.F "TWAP": equal time buckets across
// [Start, End]; a slice is emitted only once the wall clock has
// advanced into the next bucket, sized to remaining/remaining_buckets
// clamped to [MinSlice, MaxSlice]. Before Start it emits nothing;
// after End with qty remaining, it emits exactly one final slice sized
// to the full remainder (spec §8 "TWAP at time==end with remaining>0
// emits exactly one final slice").
func (e *Engine) nextTWAP(ctx Context) (ChildOrderSpec, bool) {
	if ctx.Now.Before(e.Params.Start) {
		return ChildOrderSpec{}, false
	}

	buckets := e.Params.Buckets
	if buckets <= 0 {
		buckets = 1
	}

	if !ctx.Now.Before(e.Params.End) {
		// Past the window: one terminal slice for whatever remains, then done.
		if e.Remaining().IsZero() {
			return ChildOrderSpec{}, false
		}
		qty := e.Remaining()
		e.completed = true
		return e.buildSpec(qty), true
	}

	bucket := currentBucket(ctx.Now, e.Params.Start, e.Params.End, buckets)
	if bucket <= e.lastBucket {
		return ChildOrderSpec{}, false
	}

	remainingBuckets := int64(buckets - bucket)
	if remainingBuckets <= 0 {
		remainingBuckets = 1
	}
	qty := e.Remaining().Div(num.FromFloat(float64(remainingBuckets)))
	qty = e.clampSlice(qty)
	if qty.IsZero() {
		return ChildOrderSpec{}, false
	}
	e.lastBucket = bucket
	return e.buildSpec(qty), true
}

// currentBucket maps now into [0, buckets) across [start, end].
func currentBucket(now, start, end num.Timestamp, buckets int) int {
	span := int64(end - start)
	if span <= 0 {
		return buckets - 1
	}
	elapsed := int64(now - start)
	bucket := int((elapsed * int64(buckets)) / span)
	if bucket >= buckets {
		bucket = buckets - 1
	}
	if bucket < 0 {
		bucket = 0
	}
	return bucket
}
